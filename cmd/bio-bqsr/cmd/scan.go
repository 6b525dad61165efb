// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/bio-bqsr/encoding/readsource"
	"github.com/grailbio/bio-bqsr/scan"
	"github.com/pkg/errors"
)

// shardPath inserts ".shard<i>" before the extension of out.
func shardPath(out string, i int) string {
	ext := ""
	for _, e := range []string{".gz", ".tsv"} {
		if strings.HasSuffix(out, e) {
			ext = e + ext
			out = strings.TrimSuffix(out, e)
		}
	}
	return fmt.Sprintf("%s.shard%d%s", out, i, ext)
}

func runScan(ctx context.Context, out string, in []string, perShard bool, ft readsource.FileType, opts scan.Opts) (err error) {
	p, err := readsource.NewProviderOfType(ft, in...)
	if err != nil {
		return err
	}
	defer func() {
		if e := p.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if !perShard {
		ts, stats, err := scan.Run(ctx, p, opts)
		if err != nil {
			return err
		}
		log.Printf("scan: %d input files, %v", len(in), stats)
		return errors.Wrapf(bqsr.WriteLeafFile(ctx, out, ts), "write %s", out)
	}
	results, err := scan.Shards(ctx, p, opts)
	if err != nil {
		return err
	}
	return traverse.T{Limit: len(results)}.Each(len(results), func(i int) error {
		path := shardPath(out, results[i].Shard.Index)
		log.Printf("%v: %v -> %s", results[i].Shard, results[i].Stats, path)
		return errors.Wrapf(bqsr.WriteLeafFile(ctx, path, results[i].Tables), "write %s", path)
	})
}
