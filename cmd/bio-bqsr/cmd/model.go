// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/pkg/errors"
)

// modelHeader names the columns written by writeModel.
const modelHeader = "readgroup\tquality\tevent\tobservations\terrors\treported\tempirical\trecalibrated"

// parseEvents parses a comma-separated list of event type names.
func parseEvents(s string) ([]bqsr.EventType, error) {
	var events []bqsr.EventType
	for _, name := range strings.Split(s, ",") {
		e, err := bqsr.ParseEventType(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// writeModel writes one row per (read group, reported quality, event) bin
// of ts with observations, for the given events.
func writeModel(w io.Writer, ts *bqsr.TableSet, m *bqsr.EmpiricalModel, events []bqsr.EventType, opts bqsr.QualityOpts) error {
	out := tsv.NewWriter(w)
	out.WriteString(modelHeader)
	if err := out.EndLine(); err != nil {
		return err
	}
	for it := ts.Table(bqsr.QualityScoreTable).Leaves(); it.Scan(); {
		leaf := it.Leaf()
		rg, q := leaf.Keys[0], leaf.Keys[1]
		for _, e := range events {
			d := leaf.Cell[e]
			if d.Observations == 0 {
				continue
			}
			out.WriteUint32(uint32(rg))
			out.WriteUint32(uint32(q))
			out.WriteString(e.String())
			out.WriteString(strconv.FormatInt(d.Observations, 10))
			out.WriteString(strconv.FormatInt(d.Errors, 10))
			out.WriteString(strconv.FormatFloat(d.ReportedQuality(), 'f', 2, 64))
			out.WriteString(strconv.FormatFloat(d.EmpiricalQuality(opts), 'f', 4, 64))
			out.WriteUint32(uint32(m.Lookup(rg, q, nil, e)))
			if err := out.EndLine(); err != nil {
				return err
			}
		}
	}
	return out.Flush()
}

func runModel(ctx context.Context, in, out string, stdout io.Writer, events []bqsr.EventType, opts bqsr.QualityOpts, minObservations int64) (err error) {
	ts, err := bqsr.ReadLeafFile(ctx, in)
	if err != nil {
		return errors.Wrapf(err, "read %s", in)
	}
	m, err := bqsr.NewEmpiricalModel(ts, opts, minObservations)
	if err != nil {
		return err
	}
	if out == "-" {
		return writeModel(stdout, ts, m, events, opts)
	}
	f, err := file.Create(ctx, out)
	if err != nil {
		return errors.Wrapf(err, "create %s", out)
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return writeModel(f.Writer(ctx), ts, m, events, opts)
}
