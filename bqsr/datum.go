// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// QualityOpts controls the conversion of observed error counts into a phred
// quality.
type QualityOpts struct {
	// PriorErrorWeight is added to the error count. It must be positive so
	// that an empty bin still yields a finite quality.
	PriorErrorWeight float64
	// PriorTotalWeight is added, together with PriorErrorWeight, to the
	// observation count.
	PriorTotalWeight float64
	// MinQuality and MaxQuality bound every quality this package produces.
	MinQuality int
	MaxQuality int
}

// DefaultQualityOpts matches the (errors+1)/(observations+2) smoothing used by
// GATK-style recalibrators, and the SAM limit of 93 for the maximum quality.
var DefaultQualityOpts = QualityOpts{
	PriorErrorWeight: 1,
	PriorTotalWeight: 1,
	MinQuality:       1,
	MaxQuality:       93,
}

// Validate checks that the options yield finite, ordered qualities.
func (o QualityOpts) Validate() error {
	if !(o.PriorErrorWeight > 0) || math.IsInf(o.PriorErrorWeight, 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: prior error weight must be positive and finite, got %v", o.PriorErrorWeight))
	}
	if !(o.PriorTotalWeight >= 0) || math.IsInf(o.PriorTotalWeight, 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: prior total weight must be non-negative and finite, got %v", o.PriorTotalWeight))
	}
	if o.MinQuality < 0 || o.MinQuality > o.MaxQuality {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: invalid quality range [%d, %d]", o.MinQuality, o.MaxQuality))
	}
	return nil
}

func (o QualityOpts) clip(q float64) float64 {
	if q < float64(o.MinQuality) {
		return float64(o.MinQuality)
	}
	if q > float64(o.MaxQuality) {
		return float64(o.MaxQuality)
	}
	return q
}

// Datum accumulates base observations for one key path and event type.
// Errors never exceeds Observations. The zero Datum is the identity of Merge.
type Datum struct {
	Observations       int64
	Errors             int64
	ReportedQualitySum int64
}

// Increment records one observed base.
func (d *Datum) Increment(isError bool, reportedQuality int) {
	d.Observations++
	d.ReportedQualitySum += int64(reportedQuality)
	if isError {
		d.Errors++
	}
}

// Merge returns the pointwise sum of d and other.
func (d Datum) Merge(other Datum) Datum {
	return Datum{
		Observations:       d.Observations + other.Observations,
		Errors:             d.Errors + other.Errors,
		ReportedQualitySum: d.ReportedQualitySum + other.ReportedQualitySum,
	}
}

// IsZero returns true if nothing has been recorded in d.
func (d Datum) IsZero() bool {
	return d == Datum{}
}

// ErrorRate returns the smoothed error probability of the bin.
func (d Datum) ErrorRate(opts QualityOpts) float64 {
	return (float64(d.Errors) + opts.PriorErrorWeight) /
		(float64(d.Observations) + opts.PriorErrorWeight + opts.PriorTotalWeight)
}

// EmpiricalQuality returns the phred-scaled smoothed error rate, clipped to
// [opts.MinQuality, opts.MaxQuality]. The result is finite for any d,
// including the zero Datum, as long as opts passes Validate.
func (d Datum) EmpiricalQuality(opts QualityOpts) float64 {
	return opts.clip(-10 * math.Log10(d.ErrorRate(opts)))
}

// ReportedQuality returns the mean quality reported by the sequencer for the
// bases in d, or 0 if d is empty.
func (d Datum) ReportedQuality() float64 {
	if d.Observations == 0 {
		return 0
	}
	return float64(d.ReportedQualitySum) / float64(d.Observations)
}

func (d Datum) String() string {
	return fmt.Sprintf("{obs:%d err:%d qsum:%d}", d.Observations, d.Errors, d.ReportedQualitySum)
}

// Cell holds one Datum per EventType; it is the leaf of a NestedTable.
type Cell [NumEventTypes]Datum

// Merge returns the per-event sum of c and other.
func (c Cell) Merge(other Cell) Cell {
	var r Cell
	for i := range c {
		r[i] = c[i].Merge(other[i])
	}
	return r
}

// IsZero returns true if no event has been recorded in c.
func (c *Cell) IsZero() bool {
	return *c == Cell{}
}
