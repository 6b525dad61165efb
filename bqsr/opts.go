// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Opts configures table construction, accumulation and model building.
type Opts struct {
	// Covariates lists the optional covariates, see NewCovariates.
	Covariates []string
	// MaxCycle sizes the cycle covariate.
	MaxCycle int
	// ContextSize is the number of bases in the context covariate.
	ContextSize int
	// MaxQuality sizes the quality dimension of every table.
	MaxQuality int
	// MinBaseQuality excludes bases reported below this quality.
	MinBaseQuality int
	// DefaultIndelQuality is the reported quality of insertion and deletion
	// events for reads without BI/BD tags.
	DefaultIndelQuality int
	// NoCallPolicy handles SOLiD reads with unusable color space.
	NoCallPolicy NoCallPolicy
	// Quality controls the empirical quality computation.
	Quality QualityOpts
	// MinObservations is the number of observations below which a bin of the
	// empirical model falls back to its parent level.
	MinObservations int64
	// Parallelism bounds the number of shards processed, or tables merged,
	// concurrently. 0 means runtime.NumCPU().
	Parallelism int
}

// DefaultOpts holds the default options.
var DefaultOpts = Opts{
	Covariates:          []string{"cycle", "context"},
	MaxCycle:            500,
	ContextSize:         2,
	MaxQuality:          93,
	MinBaseQuality:      0,
	DefaultIndelQuality: 45,
	NoCallPolicy:        FailFast,
	Quality:             DefaultQualityOpts,
	MinObservations:     100,
}

// Validate reports options that would make accumulation or modeling fail.
func (o *Opts) Validate() error {
	if o.MaxQuality < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: max quality must be non-negative, got %d", o.MaxQuality))
	}
	if o.DefaultIndelQuality < 0 || o.DefaultIndelQuality > MaxTableKey {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: default indel quality must be in [0, %d], got %d", MaxTableKey, o.DefaultIndelQuality))
	}
	if o.MinObservations < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("bqsr: min observations must be non-negative, got %d", o.MinObservations))
	}
	return o.Quality.Validate()
}
