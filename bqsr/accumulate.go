// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Stats counts what an Accumulator did with its input.
type Stats struct {
	// Reads is the number of reads passed to Add.
	Reads int64
	// SkippedReads is the number of reads excluded entirely, including
	// FailedQCReads.
	SkippedReads int64
	// FailedQCReads is the number of reads excluded because they fail QC,
	// either on input or because of the MarkFailingQC policy.
	FailedQCReads int64
	// Bases is the number of bases counted.
	Bases int64
	// InconsistentBases is the number of bases dropped by the color space
	// check.
	InconsistentBases int64
}

// Add adds the counters of other to s.
func (s *Stats) Add(other Stats) {
	s.Reads += other.Reads
	s.SkippedReads += other.SkippedReads
	s.FailedQCReads += other.FailedQCReads
	s.Bases += other.Bases
	s.InconsistentBases += other.InconsistentBases
}

func (s Stats) String() string {
	return fmt.Sprintf("reads:%d skipped:%d qcfail:%d bases:%d inconsistent:%d",
		s.Reads, s.SkippedReads, s.FailedQCReads, s.Bases, s.InconsistentBases)
}

// Accumulator counts the bases of one shard into a TableSet. An Accumulator
// is owned by a single goroutine.
type Accumulator struct {
	opts       Opts
	covariates []Covariate
	tables     *TableSet
	stats      Stats

	keys    [][]int
	baseKey []int
}

// NewAccumulator creates an accumulator for a shard whose header lists
// readGroupCount read groups.
func NewAccumulator(readGroupCount int, covariates []Covariate, opts Opts) (*Accumulator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	tables, err := NewTableSet(readGroupCount, opts.MaxQuality, Specs(covariates))
	if err != nil {
		return nil, err
	}
	return &Accumulator{
		opts:       opts,
		covariates: covariates,
		tables:     tables,
		keys:       make([][]int, len(covariates)),
		baseKey:    make([]int, len(covariates)),
	}, nil
}

// Tables returns the accumulated tables. The caller takes over ownership; the
// accumulator must not be used afterwards.
func (a *Accumulator) Tables() *TableSet { return a.tables }

// Stats returns the counters of the reads added so far.
func (a *Accumulator) Stats() Stats { return a.stats }

// Add counts the bases of r. Reads that fail QC, or are excluded by the
// color space policy, are skipped. Bases that disagree with the color
// stream, are masked by r.Skip, or fall below Opts.MinBaseQuality are
// skipped individually.
//
// An error means the read is malformed; nothing from it has been counted.
func (a *Accumulator) Add(r *Read) error {
	a.stats.Reads++
	if err := r.validate(); err != nil {
		return err
	}
	if r.ReadGroup < 0 || r.ReadGroup >= a.tables.schema.ReadGroups {
		return errors.E(errors.Precondition, fmt.Sprintf("bqsr: read %s: read group index %d not in header", r.Name, r.ReadGroup))
	}
	if r.FailedQC {
		a.stats.SkippedReads++
		a.stats.FailedQCReads++
		return nil
	}
	cons, err := CheckColorSpace(r, a.opts.NoCallPolicy)
	if err != nil {
		return err
	}
	if !cons.Include {
		a.stats.SkippedReads++
		if r.FailedQC {
			a.stats.FailedQCReads++
		}
		return nil
	}
	for i, c := range a.covariates {
		a.keys[i] = c.Keys(r, a.keys[i])
		if len(a.keys[i]) != len(r.Bases) {
			return errors.E(errors.Precondition, fmt.Sprintf("bqsr: read %s: covariate %s produced %d keys for %d bases", r.Name, c.Name(), len(a.keys[i]), len(r.Bases)))
		}
		for _, k := range a.keys[i] {
			if k > MaxTableKey {
				return errors.E(errors.Precondition, fmt.Sprintf("bqsr: read %s: covariate %s key %d exceeds %d", r.Name, c.Name(), k, MaxTableKey))
			}
		}
	}
	for i := range r.Bases {
		if len(r.Skip) > 0 && r.Skip[i] {
			continue
		}
		if !cons.IsConsistent(i) {
			a.stats.InconsistentBases++
			continue
		}
		if int(r.Quals[i]) < a.opts.MinBaseQuality {
			continue
		}
		for j := range a.covariates {
			a.baseKey[j] = a.keys[j][i]
		}
		for _, e := range EventTypes {
			isError := len(r.Errors[e]) > 0 && r.Errors[e][i]
			a.tables.Increment(r.ReadGroup, r.quality(e, i, a.opts.DefaultIndelQuality), a.baseKey, e, isError)
		}
		a.stats.Bases++
	}
	return nil
}
