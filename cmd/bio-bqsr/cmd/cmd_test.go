// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/bio-bqsr/encoding/readsource"
	"github.com/grailbio/bio-bqsr/scan"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "@HD\tVN:1.5\n" +
	"@SQ\tSN:chr1\tLN:100000\n" +
	"@RG\tID:rg1\tPL:ILLUMINA\n"

// writeSAMFiles writes n SAM files with 50 reads each; every tenth base
// position of a read is a mismatch.
func writeSAMFiles(t *testing.T, dir string, n int) []string {
	var paths []string
	for i := 0; i < n; i++ {
		var buf bytes.Buffer
		buf.WriteString(testHeader)
		for j := 0; j < 50; j++ {
			fmt.Fprintf(&buf, "r%d_%d\t%d\tchr1\t%d\t60\t20M\t*\t0\t0\tACGTACGTACGTACGTACGT\t%s\tRG:Z:rg1\tMD:Z:%dA%d\n",
				i, j, []int{0, 16}[j%2], 100+j, "IIIIIIIIII5555555555", j%10, 19-j%10)
		}
		path := filepath.Join(dir, fmt.Sprintf("in%d.sam", i))
		require.NoError(t, ioutil.WriteFile(path, buf.Bytes(), 0644))
		paths = append(paths, path)
	}
	return paths
}

func TestShardPath(t *testing.T) {
	expect.EQ(t, shardPath("out.tsv.gz", 3), "out.shard3.tsv.gz")
	expect.EQ(t, shardPath("out.tsv", 0), "out.shard0.tsv")
	expect.EQ(t, shardPath("s3://b/out.gz", 1), "s3://b/out.shard1.gz")
	expect.EQ(t, shardPath("out", 2), "out.shard2")
}

func TestScanMergeModel(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "bqsr")
	defer cleanup()
	in := writeSAMFiles(t, dir, 3)

	direct := filepath.Join(dir, "direct.tsv.gz")
	require.NoError(t, runScan(ctx, direct, in, false, readsource.Unknown, scan.DefaultOpts))

	shards := filepath.Join(dir, "shards.tsv.gz")
	require.NoError(t, runScan(ctx, shards, in, true, readsource.Unknown, scan.DefaultOpts))
	var shardPaths []string
	for i := range in {
		shardPaths = append(shardPaths, shardPath(shards, i))
	}
	merged := filepath.Join(dir, "merged.tsv")
	require.NoError(t, runMerge(ctx, merged, shardPaths, 2))

	a, err := bqsr.ReadLeafFile(ctx, direct)
	require.NoError(t, err)
	b, err := bqsr.ReadLeafFile(ctx, merged)
	require.NoError(t, err)
	assert.True(t, bqsr.Equal(a, b))

	c, ok := a.Table(bqsr.ReadGroupTable).Get(0)
	require.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch].Observations, int64(3*50*20))
	expect.EQ(t, c[bqsr.Mismatch].Errors, int64(3*50))

	modelPath := filepath.Join(dir, "model.tsv")
	require.NoError(t, runModel(ctx, direct, modelPath, nil, bqsr.EventTypes[:], bqsr.DefaultQualityOpts, 100))
	data, err := ioutil.ReadFile(modelPath)
	require.NoError(t, err)

	// Qualities 40 and 20 for mismatches, 45 for both indel events.
	rows := readModelRows(t, data)
	require.Len(t, rows, 4)
	for _, row := range rows {
		expect.EQ(t, row.ReadGroup, 0)
		expect.GE(t, row.Recalibrated, 1)
		expect.LE(t, row.Recalibrated, 93)
		// Every base of a bin is reported at the bin's quality.
		expect.EQ(t, row.Reported, float64(row.Quality))
		if row.Event == "I" || row.Event == "D" {
			expect.EQ(t, row.Quality, 45)
			expect.EQ(t, row.Errors, int64(0))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, runModel(ctx, direct, "-", &buf, bqsr.EventTypes[:], bqsr.DefaultQualityOpts, 100))
	expect.EQ(t, buf.String(), string(data))

	events, err := parseEvents("M")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, runModel(ctx, direct, "-", &buf, events, bqsr.DefaultQualityOpts, 100))
	rows = readModelRows(t, buf.Bytes())
	require.Len(t, rows, 2)
	for _, row := range rows {
		expect.EQ(t, row.Event, "M")
	}
}

type modelRow struct {
	ReadGroup    int     `tsv:"readgroup"`
	Quality      int     `tsv:"quality"`
	Event        string  `tsv:"event"`
	Observations int64   `tsv:"observations"`
	Errors       int64   `tsv:"errors"`
	Reported     float64 `tsv:"reported"`
	Empirical    float64 `tsv:"empirical"`
	Recalibrated int     `tsv:"recalibrated"`
}

func readModelRows(t *testing.T, data []byte) []modelRow {
	r := tsv.NewReader(bytes.NewReader(data))
	r.HasHeaderRow = true
	r.UseHeaderNames = true
	var rows []modelRow
	for {
		var row modelRow
		if err := r.Read(&row); err != nil {
			require.Equal(t, io.EOF, err)
			break
		}
		rows = append(rows, row)
	}
	return rows
}

func TestParseEvents(t *testing.T) {
	events, err := parseEvents("D, M")
	require.NoError(t, err)
	expect.EQ(t, events, []bqsr.EventType{bqsr.Deletion, bqsr.Mismatch})
	_, err = parseEvents("M,X")
	expect.True(t, bqsr.IsConfigurationError(err), "%v", err)
}

func TestScanFormat(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "bqsr")
	defer cleanup()
	in := writeSAMFiles(t, dir, 1)
	renamed := filepath.Join(dir, "reads.txt")
	require.NoError(t, os.Rename(in[0], renamed))

	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	flags := addScanFlags(fs)
	require.NoError(t, fs.Parse([]string{"-format=SAM"}))
	ft, err := flags.fileType()
	require.NoError(t, err)
	expect.EQ(t, ft, readsource.SAM)

	out := filepath.Join(dir, "out.tsv")
	require.NoError(t, runScan(ctx, out, []string{renamed}, false, ft, scan.DefaultOpts))
	ts, err := bqsr.ReadLeafFile(ctx, out)
	require.NoError(t, err)
	c, ok := ts.Table(bqsr.ReadGroupTable).Get(0)
	require.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch].Observations, int64(50*20))

	assert.Error(t, runScan(ctx, out, []string{renamed}, false, readsource.Unknown, scan.DefaultOpts))

	fs = flag.NewFlagSet("scan", flag.ContinueOnError)
	flags = addScanFlags(fs)
	require.NoError(t, fs.Parse([]string{"-format=cram"}))
	_, err = flags.fileType()
	assert.Error(t, err)
}

func TestScanFlags(t *testing.T) {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	flags := addScanFlags(fs)
	require.NoError(t, fs.Parse([]string{"-covariates=cycle", "-no-call-policy=PURGE_READ", "-force-platform=SOLID"}))
	opts, err := flags.opts()
	require.NoError(t, err)
	expect.EQ(t, opts.Covariates, []string{"cycle"})
	expect.EQ(t, opts.NoCallPolicy, bqsr.MarkFailingQC)
	expect.EQ(t, opts.Convert.ForcePlatform, "SOLID")
	expect.EQ(t, opts.MaxCycle, scan.DefaultOpts.MaxCycle)

	fs = flag.NewFlagSet("scan", flag.ContinueOnError)
	flags = addScanFlags(fs)
	require.NoError(t, fs.Parse([]string{"-no-call-policy=ignore"}))
	_, err = flags.opts()
	assert.Error(t, err)
}

func TestMergeErrors(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "bqsr")
	defer cleanup()
	err := runMerge(ctx, filepath.Join(dir, "out.tsv"), []string{filepath.Join(dir, "missing.tsv")}, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing.tsv")
}
