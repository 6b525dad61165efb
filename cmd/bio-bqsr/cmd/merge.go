// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/pkg/errors"
)

func runMerge(ctx context.Context, out string, in []string, parallelism int) error {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	sets := make([]*bqsr.TableSet, len(in))
	err := traverse.T{Limit: parallelism}.Each(len(in), func(i int) error {
		var err error
		sets[i], err = bqsr.ReadLeafFile(ctx, in[i])
		return errors.Wrapf(err, "read %s", in[i])
	})
	if err != nil {
		return err
	}
	merged, err := bqsr.MergeAll(ctx, sets, parallelism)
	if err != nil {
		return err
	}
	log.Printf("merge: %d leaf files -> %s", len(in), out)
	return errors.Wrapf(bqsr.WriteLeafFile(ctx, out, merged), "write %s", out)
}
