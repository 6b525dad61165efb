// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"math"
)

type readGroupKey struct {
	readGroup int
	event     EventType
}

type qualityKey struct {
	readGroup, quality int
	event              EventType
}

type covariateKey struct {
	readGroup, quality, value int
	event                     EventType
}

// EmpiricalModel maps (read group, reported quality, covariates, event) to a
// recalibrated quality. It is built once from a fully merged TableSet and is
// safe for concurrent use.
type EmpiricalModel struct {
	opts       QualityOpts
	covariates []CovariateSpec

	readGroup map[readGroupKey]float64
	quality   map[qualityKey]float64
	covariate []map[covariateKey]float64
}

// NewEmpiricalModel derives the model from ts. A bin with fewer than
// minObservations observations gets a zero delta, i.e., it inherits the
// quality of its parent level.
func NewEmpiricalModel(ts *TableSet, opts QualityOpts, minObservations int64) (*EmpiricalModel, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := &EmpiricalModel{
		opts:       opts,
		covariates: ts.Covariates(),
		readGroup:  make(map[readGroupKey]float64),
		quality:    make(map[qualityKey]float64),
		covariate:  make([]map[covariateKey]float64, len(ts.Covariates())),
	}
	for it := ts.Table(ReadGroupTable).Leaves(); it.Scan(); {
		leaf := it.Leaf()
		for _, e := range EventTypes {
			if d := leaf.Cell[e]; d.Observations > 0 {
				m.readGroup[readGroupKey{leaf.Keys[0], e}] = d.EmpiricalQuality(opts)
			}
		}
	}
	for it := ts.Table(QualityScoreTable).Leaves(); it.Scan(); {
		leaf := it.Leaf()
		for _, e := range EventTypes {
			d := leaf.Cell[e]
			parent, ok := m.readGroup[readGroupKey{leaf.Keys[0], e}]
			if d.Observations == 0 || !ok {
				continue
			}
			delta := 0.0
			if d.Observations >= minObservations {
				delta = d.EmpiricalQuality(opts) - parent
			}
			m.quality[qualityKey{leaf.Keys[0], leaf.Keys[1], e}] = delta
		}
	}
	for i := range m.covariates {
		deltas := make(map[covariateKey]float64)
		for it := ts.Table(OptionalTablesStart + i).Leaves(); it.Scan(); {
			leaf := it.Leaf()
			rg, q := leaf.Keys[0], leaf.Keys[1]
			for _, e := range EventTypes {
				d := leaf.Cell[e]
				parent, ok := m.qualityLevel(rg, q, e)
				if d.Observations == 0 || !ok {
					continue
				}
				delta := 0.0
				if d.Observations >= minObservations {
					delta = d.EmpiricalQuality(opts) - parent
				}
				deltas[covariateKey{rg, q, leaf.Keys[2], e}] = delta
			}
		}
		m.covariate[i] = deltas
	}
	return m, nil
}

// Covariates returns the optional covariates the model was built with, in the
// order Lookup expects their values.
func (m *EmpiricalModel) Covariates() []CovariateSpec {
	return append([]CovariateSpec(nil), m.covariates...)
}

// ReadGroupQuality returns the empirical quality of the read group for the
// event, or false if the read group has no observations.
func (m *EmpiricalModel) ReadGroupQuality(readGroup int, event EventType) (float64, bool) {
	q, ok := m.readGroup[readGroupKey{readGroup, event}]
	return q, ok
}

// qualityLevel returns Q(readGroup) + delta(quality).
func (m *EmpiricalModel) qualityLevel(readGroup, quality int, event EventType) (float64, bool) {
	q, ok := m.readGroup[readGroupKey{readGroup, event}]
	if !ok {
		return 0, false
	}
	return q + m.quality[qualityKey{readGroup, quality, event}], true
}

// Quality returns the unrounded, unclipped recalibrated quality. The second
// result is false if the read group has no observations for the event.
func (m *EmpiricalModel) Quality(readGroup, quality int, covariateValues []int, event EventType) (float64, bool) {
	q, ok := m.qualityLevel(readGroup, quality, event)
	if !ok {
		return 0, false
	}
	for i, v := range covariateValues {
		if v < 0 || i >= len(m.covariate) {
			continue
		}
		q += m.covariate[i][covariateKey{readGroup, quality, v, event}]
	}
	return q, true
}

// Lookup returns the recalibrated quality of a base, rounded and clipped to
// the configured range. covariateValues holds one key per covariate, in
// Covariates order; negative values are ignored. Bases from a read group with
// no observations keep their reported quality (clipped).
func (m *EmpiricalModel) Lookup(readGroup, quality int, covariateValues []int, event EventType) int {
	q, ok := m.Quality(readGroup, quality, covariateValues, event)
	if !ok {
		q = float64(quality)
	}
	return int(m.opts.clip(math.Round(q)))
}
