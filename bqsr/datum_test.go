// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr_test

import (
	"math"
	"testing"

	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/testutil/expect"
)

func TestDatumIncrement(t *testing.T) {
	var d bqsr.Datum
	d.Increment(false, 30)
	d.Increment(true, 20)
	d.Increment(false, 10)
	expect.EQ(t, d, bqsr.Datum{Observations: 3, Errors: 1, ReportedQualitySum: 60})
	expect.EQ(t, d.ReportedQuality(), 20.0)
}

func TestDatumMerge(t *testing.T) {
	a := bqsr.Datum{Observations: 5, Errors: 0, ReportedQualitySum: 150}
	b := bqsr.Datum{Observations: 5, Errors: 1, ReportedQualitySum: 150}
	c := bqsr.Datum{Observations: 7, Errors: 3, ReportedQualitySum: 9}
	expect.EQ(t, a.Merge(b), b.Merge(a))
	expect.EQ(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
	expect.EQ(t, a.Merge(bqsr.Datum{}), a)
	expect.True(t, bqsr.Datum{}.IsZero())
	expect.False(t, a.IsZero())
}

func TestEmpiricalQualityEmpty(t *testing.T) {
	opts := bqsr.DefaultQualityOpts
	q := bqsr.Datum{}.EmpiricalQuality(opts)
	expect.False(t, math.IsNaN(q) || math.IsInf(q, 0))
	expect.GE(t, q, float64(opts.MinQuality))
	expect.LE(t, q, float64(opts.MaxQuality))

	opts.PriorTotalWeight = 0
	q = bqsr.Datum{}.EmpiricalQuality(opts)
	expect.EQ(t, q, float64(opts.MinQuality))
}

func TestEmpiricalQualityMonotonic(t *testing.T) {
	opts := bqsr.DefaultQualityOpts
	prev := -1.0
	for errs := int64(1000); errs >= 0; errs-- {
		q := bqsr.Datum{Observations: 1000, Errors: errs}.EmpiricalQuality(opts)
		expect.GE(t, q, prev)
		prev = q
	}
}

func TestEmpiricalQualityClip(t *testing.T) {
	opts := bqsr.QualityOpts{PriorErrorWeight: 1, PriorTotalWeight: 2, MinQuality: 1, MaxQuality: 40}
	expect.EQ(t, bqsr.Datum{Observations: 1 << 40}.EmpiricalQuality(opts), 40.0)
	expect.EQ(t, bqsr.Datum{Observations: 10, Errors: 10}.EmpiricalQuality(opts), 1.0)
}

func TestQualityOptsValidate(t *testing.T) {
	expect.NoError(t, bqsr.DefaultQualityOpts.Validate())
	for _, opts := range []bqsr.QualityOpts{
		{PriorErrorWeight: 0, PriorTotalWeight: 1, MinQuality: 1, MaxQuality: 93},
		{PriorErrorWeight: 1, PriorTotalWeight: -1, MinQuality: 1, MaxQuality: 93},
		{PriorErrorWeight: 1, PriorTotalWeight: 1, MinQuality: 50, MaxQuality: 40},
		{PriorErrorWeight: math.NaN(), PriorTotalWeight: 1, MinQuality: 1, MaxQuality: 93},
	} {
		err := opts.Validate()
		expect.True(t, bqsr.IsConfigurationError(err), "opts %+v: %v", opts, err)
	}
}

func TestCellMerge(t *testing.T) {
	var a, b bqsr.Cell
	a[bqsr.Mismatch].Increment(true, 30)
	b[bqsr.Deletion].Increment(false, 45)
	m := a.Merge(b)
	expect.EQ(t, m[bqsr.Mismatch], a[bqsr.Mismatch])
	expect.EQ(t, m[bqsr.Deletion], b[bqsr.Deletion])
	expect.True(t, m[bqsr.Insertion].IsZero())
	expect.EQ(t, bqsr.Mismatch.String(), "M")
	e, err := bqsr.ParseEventType("D")
	expect.NoError(t, err)
	expect.EQ(t, e, bqsr.Deletion)
	_, err = bqsr.ParseEventType("X")
	expect.True(t, bqsr.IsConfigurationError(err), "%v", err)
}
