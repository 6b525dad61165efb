// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Table indexes within a TableSet.
const (
	// ReadGroupTable is keyed by (readGroup).
	ReadGroupTable = 0
	// QualityScoreTable is keyed by (readGroup, quality).
	QualityScoreTable = 1
	// OptionalTablesStart is the index of the first optional covariate table,
	// keyed by (readGroup, quality, covariateValue).
	OptionalTablesStart = 2
)

// CovariateSpec describes one optional covariate table.
type CovariateSpec struct {
	// Name identifies the covariate, e.g., "cycle".
	Name string
	// MaxKey is the largest key expected for the covariate. It sizes the
	// initial allocation; larger keys are still accepted.
	MaxKey int
}

// Schema is the part of a TableSet that must agree between two TableSets for
// them to be merged.
type Schema struct {
	ReadGroups int
	MaxQuality int
	Covariates []CovariateSpec
}

// Equal returns true if s and o describe the same tables.
func (s Schema) Equal(o Schema) bool {
	if s.ReadGroups != o.ReadGroups || s.MaxQuality != o.MaxQuality || len(s.Covariates) != len(o.Covariates) {
		return false
	}
	for i := range s.Covariates {
		if s.Covariates[i] != o.Covariates[i] {
			return false
		}
	}
	return true
}

// String renders the schema as "readGroups<TAB>maxQuality<TAB>name:maxKey,...".
func (s Schema) String() string {
	covs := make([]string, len(s.Covariates))
	for i, c := range s.Covariates {
		covs[i] = c.Name + ":" + strconv.Itoa(c.MaxKey)
	}
	return fmt.Sprintf("%d\t%d\t%s", s.ReadGroups, s.MaxQuality, strings.Join(covs, ","))
}

// Fingerprint returns a hash of the schema, used to reject leaf files
// produced under a different configuration.
func (s Schema) Fingerprint() uint64 {
	return farm.Fingerprint64([]byte(s.String()))
}

// ParseSchema is the inverse of Schema.String.
func ParseSchema(str string) (Schema, error) {
	fields := strings.Split(str, "\t")
	if len(fields) != 3 {
		return Schema{}, errors.E(errors.Invalid, fmt.Sprintf("bqsr: malformed schema %q", str))
	}
	var (
		s   Schema
		err error
	)
	if s.ReadGroups, err = strconv.Atoi(fields[0]); err != nil {
		return Schema{}, errors.E(errors.Invalid, err, "bqsr: schema read group count")
	}
	if s.MaxQuality, err = strconv.Atoi(fields[1]); err != nil {
		return Schema{}, errors.E(errors.Invalid, err, "bqsr: schema max quality")
	}
	if fields[2] == "" {
		return s, nil
	}
	for _, cov := range strings.Split(fields[2], ",") {
		colon := strings.LastIndexByte(cov, ':')
		if colon <= 0 {
			return Schema{}, errors.E(errors.Invalid, fmt.Sprintf("bqsr: malformed covariate %q in schema", cov))
		}
		maxKey, err := strconv.Atoi(cov[colon+1:])
		if err != nil {
			return Schema{}, errors.E(errors.Invalid, err, "bqsr: schema covariate", cov)
		}
		s.Covariates = append(s.Covariates, CovariateSpec{Name: cov[:colon], MaxKey: maxKey})
	}
	return s, nil
}

// TableSet is the full set of recalibration tables of one shard: the read
// group table, the quality score table, and one table per optional
// covariate. All tables share the read group and quality dimensions.
type TableSet struct {
	schema Schema
	tables []*NestedTable
}

// NewTableSet allocates the tables for readGroupCount read groups, qualities
// in [0, maxQuality], and the given optional covariates.
func NewTableSet(readGroupCount, maxQuality int, covariates []CovariateSpec) (*TableSet, error) {
	return newTableSet(Schema{
		ReadGroups: readGroupCount,
		MaxQuality: maxQuality,
		Covariates: append([]CovariateSpec(nil), covariates...),
	})
}

func newTableSet(s Schema) (*TableSet, error) {
	if s.ReadGroups <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: read group count must be positive, got %d", s.ReadGroups))
	}
	if s.MaxQuality < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: max quality must be non-negative, got %d", s.MaxQuality))
	}
	seen := make(map[string]bool, len(s.Covariates))
	for _, c := range s.Covariates {
		if c.Name == "" || strings.ContainsAny(c.Name, ":,\t") {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: invalid covariate name %q", c.Name))
		}
		if seen[c.Name] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: duplicate covariate %q", c.Name))
		}
		seen[c.Name] = true
		if c.MaxKey < 0 || c.MaxKey > MaxTableKey {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: covariate %s max key %d not in [0, %d]", c.Name, c.MaxKey, MaxTableKey))
		}
	}
	ts := &TableSet{
		schema: s,
		tables: make([]*NestedTable, OptionalTablesStart+len(s.Covariates)),
	}
	var err error
	if ts.tables[ReadGroupTable], err = NewNestedTable(s.ReadGroups); err != nil {
		return nil, err
	}
	if ts.tables[QualityScoreTable], err = NewNestedTable(s.ReadGroups, s.MaxQuality+1); err != nil {
		return nil, err
	}
	for i, c := range s.Covariates {
		if ts.tables[OptionalTablesStart+i], err = NewNestedTable(s.ReadGroups, s.MaxQuality+1, c.MaxKey+1); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// Schema returns the configuration the TableSet was created with.
func (ts *TableSet) Schema() Schema {
	s := ts.schema
	s.Covariates = append([]CovariateSpec(nil), s.Covariates...)
	return s
}

// NumTables returns the number of tables, OptionalTablesStart plus the
// number of covariates.
func (ts *TableSet) NumTables() int { return len(ts.tables) }

// Table returns the i'th table.
func (ts *TableSet) Table(i int) *NestedTable { return ts.tables[i] }

// Covariates returns the optional covariates, in table order.
func (ts *TableSet) Covariates() []CovariateSpec { return ts.Schema().Covariates }

// Increment records one base observation for the given event. covariateKeys
// holds one key per optional covariate, in table order; a negative key means
// the covariate has no value for the base, and its table is left alone.
func (ts *TableSet) Increment(readGroup, quality int, covariateKeys []int, event EventType, isError bool) {
	ts.tables[ReadGroupTable].GetOrCreate(readGroup)[event].Increment(isError, quality)
	ts.tables[QualityScoreTable].GetOrCreate(readGroup, quality)[event].Increment(isError, quality)
	for i, key := range covariateKeys {
		if key < 0 {
			continue
		}
		ts.tables[OptionalTablesStart+i].GetOrCreate(readGroup, quality, key)[event].Increment(isError, quality)
	}
}

// Clone returns a deep copy of ts.
func (ts *TableSet) Clone() *TableSet {
	c := &TableSet{schema: ts.Schema(), tables: make([]*NestedTable, len(ts.tables))}
	for i, t := range ts.tables {
		c.tables[i] = t.Clone()
	}
	return c
}

func checkSchemas(a, b *TableSet) error {
	if !a.schema.Equal(b.schema) {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: cannot merge tables with different schemas [%s] and [%s]", a.schema, b.schema))
	}
	return nil
}

// Merge returns a new TableSet whose every leaf is the sum of the
// corresponding leaves of a and b, treating absent leaves as zero. The
// dimensions of the result are at least those of both inputs. Neither input
// is modified. It is an error to merge TableSets with different schemas.
func Merge(a, b *TableSet) (*TableSet, error) {
	if err := checkSchemas(a, b); err != nil {
		return nil, err
	}
	r := a.Clone()
	for i, t := range r.tables {
		t.mergeFrom(b.tables[i])
	}
	return r, nil
}

// MergeInto adds the leaves of src into dst. The caller must own dst
// exclusively. dst is not modified if the schemas differ.
func MergeInto(dst, src *TableSet) error {
	if err := checkSchemas(dst, src); err != nil {
		return err
	}
	for i, t := range dst.tables {
		t.mergeFrom(src.tables[i])
	}
	return nil
}

// MergeAll folds sets into a single TableSet by merging pairs in parallel,
// using at most parallelism goroutines (0 means no limit). The inputs are not
// modified. All schemas are checked before any merging starts.
func MergeAll(ctx context.Context, sets []*TableSet, parallelism int) (*TableSet, error) {
	if len(sets) == 0 {
		return nil, errors.E(errors.Invalid, "bqsr: no tables to merge")
	}
	for _, ts := range sets[1:] {
		if err := checkSchemas(sets[0], ts); err != nil {
			return nil, err
		}
	}
	if len(sets) == 1 {
		return sets[0].Clone(), nil
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	cur := sets
	owned := false
	for round := 0; len(cur) > 1; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make([]*TableSet, (len(cur)+1)/2)
		err := traverse.T{Limit: parallelism}.Each(len(cur)/2, func(i int) error {
			a, b := cur[2*i], cur[2*i+1]
			if !owned {
				var err error
				next[i], err = Merge(a, b)
				return err
			}
			next[i] = a
			return MergeInto(a, b)
		})
		if err != nil {
			return nil, err
		}
		if len(cur)%2 == 1 {
			last := cur[len(cur)-1]
			if !owned {
				last = last.Clone()
			}
			next[len(next)-1] = last
		}
		log.Debug.Printf("bqsr.MergeAll: round %d merged %d tablesets into %d", round, len(cur), len(next))
		cur = next
		owned = true
	}
	return cur[0], nil
}

// Equal returns true if a and b have the same schema and the same non-empty
// leaves. Allocation bounds are not compared.
func Equal(a, b *TableSet) bool {
	if !a.schema.Equal(b.schema) {
		return false
	}
	for i := range a.tables {
		ia, ib := a.tables[i].Leaves(), b.tables[i].Leaves()
		for {
			okA, okB := ia.Scan(), ib.Scan()
			if okA != okB {
				return false
			}
			if !okA {
				break
			}
			la, lb := ia.Leaf(), ib.Leaf()
			if la.Cell != lb.Cell || !equalKeys(la.Keys, lb.Keys) {
				return false
			}
		}
	}
	return true
}

func equalKeys(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
