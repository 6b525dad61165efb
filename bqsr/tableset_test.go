// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var testCovariates = []bqsr.CovariateSpec{{Name: "cycle", MaxKey: 21}, {Name: "context", MaxKey: 255}}

func newTestTableSet(t *testing.T) *bqsr.TableSet {
	ts, err := bqsr.NewTableSet(2, 40, testCovariates)
	require.NoError(t, err)
	return ts
}

// randomTableSet fills a TableSet with n random increments. Keys may exceed
// the initial bounds.
func randomTableSet(t *testing.T, r *rand.Rand, n int) *bqsr.TableSet {
	ts := newTestTableSet(t)
	keys := make([]int, len(testCovariates))
	for i := 0; i < n; i++ {
		rg := r.Intn(3)
		if rg == 2 {
			// Some shards see read groups beyond the header count.
			rg = 2 + r.Intn(2)
		}
		q := r.Intn(60)
		for j := range keys {
			keys[j] = r.Intn(400) - 20
		}
		ts.Increment(rg, q, keys, bqsr.EventTypes[r.Intn(bqsr.NumEventTypes)], r.Intn(10) == 0)
	}
	return ts
}

func TestNewTableSetErrors(t *testing.T) {
	for _, c := range []struct {
		rg, maxQ int
		covs     []bqsr.CovariateSpec
	}{
		{0, 40, nil},
		{1, -1, nil},
		{1, 40, []bqsr.CovariateSpec{{Name: "", MaxKey: 1}}},
		{1, 40, []bqsr.CovariateSpec{{Name: "a:b", MaxKey: 1}}},
		{1, 40, []bqsr.CovariateSpec{{Name: "cycle", MaxKey: 1}, {Name: "cycle", MaxKey: 2}}},
		{1, 40, []bqsr.CovariateSpec{{Name: "cycle", MaxKey: -1}}},
		{1, 40, []bqsr.CovariateSpec{{Name: "cycle", MaxKey: bqsr.MaxTableKey + 1}}},
	} {
		_, err := bqsr.NewTableSet(c.rg, c.maxQ, c.covs)
		expect.True(t, bqsr.IsConfigurationError(err), "%+v: %v", c, err)
	}
	ts := newTestTableSet(t)
	expect.EQ(t, ts.NumTables(), 4)
	expect.EQ(t, ts.Table(bqsr.QualityScoreTable).Bounds(), []int{2, 41})
	expect.EQ(t, ts.Table(bqsr.OptionalTablesStart+1).Bounds(), []int{2, 41, 256})
}

func TestIncrement(t *testing.T) {
	ts := newTestTableSet(t)
	ts.Increment(1, 30, []int{4, -1}, bqsr.Mismatch, true)
	ts.Increment(1, 30, []int{4, 7}, bqsr.Mismatch, false)

	c, ok := ts.Table(bqsr.ReadGroupTable).Get(1)
	assert.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch], bqsr.Datum{Observations: 2, Errors: 1, ReportedQualitySum: 60})
	c, ok = ts.Table(bqsr.QualityScoreTable).Get(1, 30)
	assert.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch].Observations, int64(2))
	c, ok = ts.Table(bqsr.OptionalTablesStart).Get(1, 30, 4)
	assert.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch].Observations, int64(2))
	c, ok = ts.Table(bqsr.OptionalTablesStart+1).Get(1, 30, 7)
	assert.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch], bqsr.Datum{Observations: 1, ReportedQualitySum: 30})
	expect.EQ(t, ts.Table(bqsr.OptionalTablesStart+1).NumCells(), 1)
}

// Two shards of five bases each at quality 30, one with a single mismatch.
func TestMergeScenario(t *testing.T) {
	a, b := newTestTableSet(t), newTestTableSet(t)
	// Cycle 5 of a first read; no context.
	keys := []int{10, -1}
	for i := 0; i < 5; i++ {
		a.Increment(0, 30, keys, bqsr.Mismatch, false)
		b.Increment(0, 30, keys, bqsr.Mismatch, i == 2)
	}
	m, err := bqsr.Merge(a, b)
	require.NoError(t, err)
	c, ok := m.Table(bqsr.QualityScoreTable).Get(0, 30)
	require.True(t, ok)
	d := c[bqsr.Mismatch]
	expect.EQ(t, d, bqsr.Datum{Observations: 10, Errors: 1, ReportedQualitySum: 300})
	c, ok = m.Table(bqsr.OptionalTablesStart).Get(0, 30, 10)
	require.True(t, ok)
	expect.EQ(t, c[bqsr.Mismatch], d)

	opts := bqsr.QualityOpts{PriorErrorWeight: 1, PriorTotalWeight: 2, MinQuality: 1, MaxQuality: 93}
	expect.True(t, math.Abs(d.EmpiricalQuality(opts)-(-10*math.Log10(2.0/13))) < 1e-9)

	// Inputs are untouched.
	c, _ = a.Table(bqsr.QualityScoreTable).Get(0, 30)
	expect.EQ(t, c[bqsr.Mismatch].Observations, int64(5))
}

func TestMergeAlgebra(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 20; iter++ {
		a := randomTableSet(t, r, r.Intn(300))
		b := randomTableSet(t, r, r.Intn(300))
		c := randomTableSet(t, r, r.Intn(300))
		empty := newTestTableSet(t)

		ab, err := bqsr.Merge(a, b)
		require.NoError(t, err)
		ba, err := bqsr.Merge(b, a)
		require.NoError(t, err)
		expect.True(t, bqsr.Equal(ab, ba), "merge is not commutative")

		abc1, err := bqsr.Merge(ab, c)
		require.NoError(t, err)
		bc, err := bqsr.Merge(b, c)
		require.NoError(t, err)
		abc2, err := bqsr.Merge(a, bc)
		require.NoError(t, err)
		expect.True(t, bqsr.Equal(abc1, abc2), "merge is not associative")

		ae, err := bqsr.Merge(a, empty)
		require.NoError(t, err)
		expect.True(t, bqsr.Equal(ae, a), "empty table is not an identity")

		dst := a.Clone()
		require.NoError(t, bqsr.MergeInto(dst, b))
		expect.True(t, bqsr.Equal(dst, ab))
	}
}

// Accumulating everything into one TableSet is the same as accumulating
// shards separately and merging.
func TestMergeFoldEquivalence(t *testing.T) {
	type inc struct {
		rg, q int
		keys  []int
		event bqsr.EventType
		err   bool
	}
	r := rand.New(rand.NewSource(2))
	var incs []inc
	for i := 0; i < 2000; i++ {
		incs = append(incs, inc{
			rg: r.Intn(2), q: r.Intn(45), keys: []int{r.Intn(30), r.Intn(300)},
			event: bqsr.EventTypes[r.Intn(bqsr.NumEventTypes)], err: r.Intn(20) == 0,
		})
	}
	whole := newTestTableSet(t)
	shards := make([]*bqsr.TableSet, 7)
	for i := range shards {
		shards[i] = newTestTableSet(t)
	}
	for i, x := range incs {
		whole.Increment(x.rg, x.q, x.keys, x.event, x.err)
		shards[i%len(shards)].Increment(x.rg, x.q, x.keys, x.event, x.err)
	}
	for _, p := range []int{0, 1, 3} {
		merged, err := bqsr.MergeAll(context.Background(), shards, p)
		require.NoError(t, err)
		expect.True(t, bqsr.Equal(merged, whole), "parallelism %d", p)
	}
	c, _ := shards[0].Table(bqsr.ReadGroupTable).Get(0)
	var n int64
	for _, d := range c {
		n += d.Observations
	}
	expect.GT(t, n, int64(0))
}

func TestMergeAllMatchesSequentialFold(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, n := range []int{1, 2, 5, 8, 13} {
		sets := make([]*bqsr.TableSet, n)
		for i := range sets {
			sets[i] = randomTableSet(t, r, 100)
		}
		snapshot := make([]*bqsr.TableSet, n)
		for i := range sets {
			snapshot[i] = sets[i].Clone()
		}
		want := sets[0].Clone()
		for _, s := range sets[1:] {
			require.NoError(t, bqsr.MergeInto(want, s))
		}
		got, err := bqsr.MergeAll(context.Background(), sets, 2)
		require.NoError(t, err)
		expect.True(t, bqsr.Equal(got, want), "n=%d", n)
		for i := range sets {
			expect.True(t, bqsr.Equal(sets[i], snapshot[i]), "input %d modified", i)
		}
	}
}

func TestMergeSchemaMismatch(t *testing.T) {
	a := newTestTableSet(t)
	b, err := bqsr.NewTableSet(2, 40, testCovariates[:1])
	require.NoError(t, err)
	c, err := bqsr.NewTableSet(3, 40, testCovariates)
	require.NoError(t, err)

	_, err = bqsr.Merge(a, b)
	expect.True(t, bqsr.IsConfigurationError(err), "%v", err)
	expect.True(t, bqsr.IsConfigurationError(bqsr.MergeInto(a, c)))
	_, err = bqsr.MergeAll(context.Background(), []*bqsr.TableSet{a, a, c}, 0)
	expect.True(t, bqsr.IsConfigurationError(err), "%v", err)
	_, err = bqsr.MergeAll(context.Background(), nil, 0)
	expect.True(t, bqsr.IsConfigurationError(err), "%v", err)
}

func TestMergeAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestTableSet(t)
	_, err := bqsr.MergeAll(ctx, []*bqsr.TableSet{a, a.Clone()}, 0)
	expect.EQ(t, err, context.Canceled)
}

func TestSchema(t *testing.T) {
	s := newTestTableSet(t).Schema()
	expect.EQ(t, s.String(), "2\t40\tcycle:21,context:255")
	p, err := bqsr.ParseSchema(s.String())
	require.NoError(t, err)
	expect.True(t, p.Equal(s))
	expect.EQ(t, p.Fingerprint(), s.Fingerprint())

	other := s
	other.MaxQuality = 41
	expect.False(t, other.Equal(s))
	expect.NEQ(t, other.Fingerprint(), s.Fingerprint())

	p, err = bqsr.ParseSchema("1\t93\t")
	require.NoError(t, err)
	expect.EQ(t, len(p.Covariates), 0)
	_, err = bqsr.ParseSchema("1\t93")
	expect.True(t, bqsr.IsConfigurationError(err))
}
