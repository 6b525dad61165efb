// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*
Package bqsr accumulates base quality score recalibration statistics.

Every aligned base of a read is classified by a small set of integer
covariates (read group, reported quality, and optional covariates such as
sequencing cycle and dinucleotide context) and counted, once per event type
(mismatch, insertion, deletion), in a TableSet. A TableSet is built per shard
by an Accumulator, then the shard tables are folded together with Merge or
MergeAll. Since merging only sums integer counters, any fold order yields
bit-identical results.

The merged TableSet is turned into an EmpiricalModel, which answers
recalibrated-quality queries using a three-level hierarchy:

  Q = Q(readGroup) + delta(quality) + sum(delta(covariate))

where each delta is measured against its parent level and falls back to zero
when the bin holds fewer than MinObservations bases.

Reads from color-space platforms (SOLiD) are validated by CheckColorSpace
before they may contribute; bases whose call disagrees with the color stream
are excluded individually.

TableSets are exchanged between processes as leaf files: one tab-separated
line per (table, key path, event type), see WriteLeaves.
*/
package bqsr
