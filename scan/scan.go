// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package scan drives recalibration table accumulation over a sharded read
// source: every shard is counted into its own TableSet by an independent
// worker, and the per-shard tables are merged at the end.
package scan

import (
	"context"
	"runtime"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/bio-bqsr/encoding/readsource"
	"github.com/grailbio/bio-bqsr/encoding/samread"
	"github.com/grailbio/hts/sam"
)

// Opts configures a scan.
type Opts struct {
	bqsr.Opts
	// Convert configures record conversion.
	Convert samread.Opts
}

// DefaultOpts holds the default options.
var DefaultOpts = Opts{Opts: bqsr.DefaultOpts}

// ctxCheckInterval is the number of records between context checks.
const ctxCheckInterval = 1 << 14

// Result is the outcome of scanning one shard.
type Result struct {
	Shard  readsource.Shard
	Tables *bqsr.TableSet
	Stats  bqsr.Stats
}

// Shard counts the records of one shard into a fresh TableSet. Records that
// samread.Usable rejects are ignored. Any error aborts the shard.
func Shard(ctx context.Context, p readsource.Provider, header *sam.Header, shard readsource.Shard, opts Opts) (Result, error) {
	conv, err := samread.NewConverter(header, opts.Convert)
	if err != nil {
		return Result{}, err
	}
	covs, err := bqsr.NewCovariates(opts.Covariates, opts.Opts)
	if err != nil {
		return Result{}, err
	}
	acc, err := bqsr.NewAccumulator(conv.NumReadGroups(), covs, opts.Opts)
	if err != nil {
		return Result{}, err
	}
	var (
		e    errorreporter.T
		read bqsr.Read
		n    int
	)
	it := p.NewIterator(shard)
	for it.Scan() {
		if n++; n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				e.Set(err)
				break
			}
		}
		rec := it.Record()
		if !samread.Usable(rec) {
			continue
		}
		if err := conv.Convert(rec, &read); err != nil {
			e.Set(err)
			break
		}
		if err := acc.Add(&read); err != nil {
			e.Set(err)
			break
		}
	}
	e.Set(it.Close())
	if err := e.Err(); err != nil {
		return Result{}, errors.E(err, shard.String())
	}
	log.Debug.Printf("%v: %v", shard, acc.Stats())
	return Result{Shard: shard, Tables: acc.Tables(), Stats: acc.Stats()}, nil
}

// Shards scans every shard of p, using at most opts.Parallelism workers, and
// returns the per-shard results in shard order.
func Shards(ctx context.Context, p readsource.Provider, opts Opts) ([]Result, error) {
	header, err := p.GetHeader()
	if err != nil {
		return nil, err
	}
	shards, err := p.GenerateShards()
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, errors.E(errors.Invalid, "scan: no shards")
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	log.Printf("scan: %d shards, parallelism %d", len(shards), parallelism)
	results := make([]Result, len(shards))
	err = traverse.T{Limit: parallelism}.Each(len(shards), func(i int) error {
		var err error
		results[i], err = Shard(ctx, p, header, shards[i], opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Run scans every shard of p and merges the per-shard tables into one.
func Run(ctx context.Context, p readsource.Provider, opts Opts) (*bqsr.TableSet, bqsr.Stats, error) {
	var stats bqsr.Stats
	results, err := Shards(ctx, p, opts)
	if err != nil {
		return nil, stats, err
	}
	sets := make([]*bqsr.TableSet, len(results))
	for i, r := range results {
		sets[i] = r.Tables
		stats.Add(r.Stats)
	}
	merged, err := bqsr.MergeAll(ctx, sets, opts.Parallelism)
	if err != nil {
		return nil, stats, err
	}
	log.Printf("scan: %v", stats)
	return merged, stats, nil
}
