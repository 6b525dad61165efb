// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// Leaf files
//
// A TableSet is serialized as tab-separated text. The first line is
//
//   #schema <fingerprint> <readGroups> <maxQuality> <name:maxKey,...>
//
// followed by one line per (table, key path, event) with a non-zero Datum:
//
//   table readGroup [quality [covariateValue]] event observations errors reportedQualitySum
//
// where table is the table index (0: read group, 1: quality score, 2+:
// optional covariates) and event is the EventType index. Lines form an
// unordered multiset: reading them in any order, or reading the same line
// twice, sums the counters.

const schemaPrefix = "#schema"

// keyCount returns the number of key columns of table i.
func keyCount(table int) int {
	switch table {
	case ReadGroupTable:
		return 1
	case QualityScoreTable:
		return 2
	}
	return 3
}

// WriteLeaves writes ts to w, leaves in lexicographic order.
func WriteLeaves(w io.Writer, ts *TableSet) error {
	out := tsv.NewWriter(w)
	s := ts.schema
	out.WriteString(schemaPrefix)
	out.WriteString(strconv.FormatUint(s.Fingerprint(), 16))
	out.WriteString(s.String())
	if err := out.EndLine(); err != nil {
		return err
	}
	for i, t := range ts.tables {
		for it := t.Leaves(); it.Scan(); {
			leaf := it.Leaf()
			for _, e := range EventTypes {
				d := leaf.Cell[e]
				if d.IsZero() {
					continue
				}
				out.WriteUint32(uint32(i))
				for _, k := range leaf.Keys {
					out.WriteUint32(uint32(k))
				}
				out.WriteUint32(uint32(e))
				out.WriteString(strconv.FormatInt(d.Observations, 10))
				out.WriteString(strconv.FormatInt(d.Errors, 10))
				out.WriteString(strconv.FormatInt(d.ReportedQualitySum, 10))
				if err := out.EndLine(); err != nil {
					return err
				}
			}
		}
	}
	return out.Flush()
}

func parseSchemaLine(line string) (Schema, error) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 || fields[0] != schemaPrefix {
		return Schema{}, errors.E(errors.Invalid, fmt.Sprintf("bqsr: malformed schema line %q", line))
	}
	s, err := ParseSchema(fields[2])
	if err != nil {
		return Schema{}, err
	}
	if fp := strconv.FormatUint(s.Fingerprint(), 16); fp != fields[1] {
		return Schema{}, errors.E(errors.Integrity, fmt.Sprintf("bqsr: schema fingerprint %s does not match %s", fields[1], fp))
	}
	return s, nil
}

// ReadTableSet creates a TableSet from a leaf stream written by WriteLeaves.
func ReadTableSet(r io.Reader) (*TableSet, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	s, err := parseSchemaLine(strings.TrimRight(line, "\n"))
	if err != nil {
		return nil, err
	}
	ts, err := newTableSet(s)
	if err != nil {
		return nil, err
	}
	if err := readLeaves(br, ts, 1); err != nil {
		return nil, err
	}
	return ts, nil
}

// ReadLeaves adds the leaves in r to ts. If r starts with a schema line, it
// must match the schema of ts. On error, ts may hold part of the leaves.
func ReadLeaves(r io.Reader, ts *TableSet) error {
	return readLeaves(r, ts, 0)
}

func readLeaves(r io.Reader, ts *TableSet, lineno int) error {
	scanner := bufio.NewScanner(r)
	keys := make([]int, 0, 3)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if !strings.HasPrefix(line, schemaPrefix) {
				continue
			}
			s, err := parseSchemaLine(line)
			if err != nil {
				return err
			}
			if !s.Equal(ts.schema) {
				return errors.E(errors.Invalid, fmt.Sprintf("bqsr: line %d: leaf schema [%s] does not match table schema [%s]", lineno, s, ts.schema))
			}
			continue
		}
		var err error
		if keys, err = parseLeafLine(ts, line, keys); err != nil {
			return errors.E(err, fmt.Sprintf("line %d", lineno))
		}
	}
	return scanner.Err()
}

func parseLeafLine(ts *TableSet, line string, keys []int) ([]int, error) {
	fields := strings.Split(line, "\t")
	parse := func(i int) (int64, error) {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err == nil && v < 0 {
			err = fmt.Errorf("negative value %d", v)
		}
		if err != nil {
			return 0, errors.E(errors.Invalid, err, fmt.Sprintf("bqsr: field %d of %q", i, line))
		}
		return v, nil
	}
	table, err := parse(0)
	if err != nil {
		return keys, err
	}
	if table >= int64(len(ts.tables)) {
		return keys, errors.E(errors.Invalid, fmt.Sprintf("bqsr: table index %d out of range in %q", table, line))
	}
	nkeys := keyCount(int(table))
	if len(fields) != nkeys+5 {
		return keys, errors.E(errors.Invalid, fmt.Sprintf("bqsr: got %d fields, want %d in %q", len(fields), nkeys+5, line))
	}
	keys = keys[:0]
	for i := 1; i <= nkeys; i++ {
		k, err := parse(i)
		if err != nil {
			return keys, err
		}
		if k > MaxTableKey {
			return keys, errors.E(errors.Invalid, fmt.Sprintf("bqsr: key %d out of range in %q", k, line))
		}
		keys = append(keys, int(k))
	}
	var vals [4]int64
	for i := range vals {
		if vals[i], err = parse(nkeys + 1 + i); err != nil {
			return keys, err
		}
	}
	if vals[0] >= NumEventTypes {
		return keys, errors.E(errors.Invalid, fmt.Sprintf("bqsr: event type %d out of range in %q", vals[0], line))
	}
	d := Datum{Observations: vals[1], Errors: vals[2], ReportedQualitySum: vals[3]}
	if d.Errors > d.Observations {
		return keys, errors.E(errors.Integrity, fmt.Sprintf("bqsr: %d errors exceed %d observations in %q", d.Errors, d.Observations, line))
	}
	c := ts.tables[table].GetOrCreate(keys...)
	c[vals[0]] = c[vals[0]].Merge(d)
	return keys, nil
}

// WriteLeafFile writes ts to path. Paths ending in ".gz" are gzip-compressed.
func WriteLeafFile(ctx context.Context, path string, ts *TableSet) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "bqsr: create", path)
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	w := out.Writer(ctx)
	if !strings.HasSuffix(path, ".gz") {
		return WriteLeaves(w, ts)
	}
	gz := gzip.NewWriter(w)
	if err = WriteLeaves(gz, ts); err != nil {
		return err
	}
	return gz.Close()
}

// ReadLeafFile reads a TableSet written by WriteLeafFile. Compression is
// detected from the content.
func ReadLeafFile(ctx context.Context, path string) (ts *TableSet, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "bqsr: open", path)
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	r, compressed := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := r.Close(); e != nil && err == nil {
			err = e
		}
	}()
	log.Debug.Printf("bqsr.ReadLeafFile: %s (compressed: %v)", path, compressed)
	if ts, err = ReadTableSet(r); err != nil {
		return nil, errors.E(err, path)
	}
	return ts, nil
}
