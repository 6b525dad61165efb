// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Covariate maps every base of a read to a small non-negative key. The read
// group and reported quality are implicit; Covariate implementations provide
// the optional covariates.
type Covariate interface {
	// Name identifies the covariate in schemas and leaf files.
	Name() string
	// MaxKey is the largest key expected under normal input.
	MaxKey() int
	// Keys appends one key per base of r, in reference orientation, to
	// keys[:0] and returns the result. A key of -1 means the base has no
	// value for this covariate.
	Keys(r *Read, keys []int) []int
}

// Specs returns the table specs of the given covariates.
func Specs(covariates []Covariate) []CovariateSpec {
	specs := make([]CovariateSpec, len(covariates))
	for i, c := range covariates {
		specs[i] = CovariateSpec{Name: c.Name(), MaxKey: c.MaxKey()}
	}
	return specs
}

// NewCovariates creates the named covariates, in order. Known names are
// "cycle" and "context".
func NewCovariates(names []string, opts Opts) ([]Covariate, error) {
	covs := make([]Covariate, 0, len(names))
	for _, name := range names {
		switch name {
		case "cycle":
			if opts.MaxCycle <= 0 || opts.MaxCycle > MaxTableKey>>1 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: max cycle must be in [1, %d], got %d", MaxTableKey>>1, opts.MaxCycle))
			}
			covs = append(covs, CycleCovariate{MaxCycle: opts.MaxCycle})
		case "context":
			if opts.ContextSize <= 0 || opts.ContextSize > maxContextSize {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: context size must be in [1, %d], got %d", maxContextSize, opts.ContextSize))
			}
			covs = append(covs, ContextCovariate{Size: opts.ContextSize})
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: unknown covariate %q", name))
		}
	}
	return covs, nil
}

// CycleCovariate is the machine cycle of a base: 1, 2, ... from the start of
// sequencing for the first read of a pair, and -1, -2, ... for the second
// read. The signed cycle c is stored as |c|<<1 | (c<0).
type CycleCovariate struct {
	MaxCycle int
}

// Name implements Covariate.
func (CycleCovariate) Name() string { return "cycle" }

// MaxKey implements Covariate.
func (c CycleCovariate) MaxKey() int { return c.MaxCycle<<1 | 1 }

// Keys implements Covariate.
func (CycleCovariate) Keys(r *Read, keys []int) []int {
	keys = keys[:0]
	n := len(r.Bases)
	readOrder := 1
	if r.SecondOfPair {
		readOrder = -1
	}
	first, step := readOrder, readOrder
	if r.Reverse {
		first = readOrder * n
		step = -readOrder
	}
	for i := 0; i < n; i++ {
		keys = append(keys, cycleKey(first+i*step))
	}
	return keys
}

func cycleKey(cycle int) int {
	if cycle < 0 {
		return -cycle<<1 | 1
	}
	return cycle << 1
}

const (
	// contextLengthBits is the number of low bits holding the context length.
	contextLengthBits = 4
	// maxContextSize keeps ContextCovariate.MaxKey within MaxTableKey.
	maxContextSize = 8
	// lowQualityTail is the quality at or below which read ends are masked.
	lowQualityTail = 2
)

// ContextCovariate is the sequence of Size bases ending at a base, read in
// sequencing orientation. The key packs the context length in its low four
// bits and two bits per base above it. Contexts containing a non-ACGT base,
// or overlapping a low-quality read end, have no value.
type ContextCovariate struct {
	Size int
}

// Name implements Covariate.
func (ContextCovariate) Name() string { return "context" }

// MaxKey implements Covariate.
func (c ContextCovariate) MaxKey() int { return 1<<uint(contextLengthBits+2*c.Size) - 1 }

// Keys implements Covariate.
func (c ContextCovariate) Keys(r *Read, keys []int) []int {
	keys = keys[:0]
	n := len(r.Bases)
	// Trim low-quality tails, then walk in sequencing orientation.
	left, right := 0, n-1
	for left < n && r.Quals[left] <= lowQualityTail {
		left++
	}
	for right >= left && r.Quals[right] <= lowQualityTail {
		right--
	}
	base := func(seqPos int) int {
		i := seqPos
		if r.Reverse {
			i = n - seqPos - 1
		}
		if i < left || i > right {
			return -1
		}
		if r.Reverse {
			return baseIndex(complement(r.Bases[i]))
		}
		return baseIndex(r.Bases[i])
	}
	for seqPos := 0; seqPos < n; seqPos++ {
		key := -1
		if seqPos+1 >= c.Size {
			key = c.Size
			shift := uint(contextLengthBits)
			for j := seqPos + 1 - c.Size; j <= seqPos; j++ {
				b := base(j)
				if b < 0 {
					key = -1
					break
				}
				key |= b << shift
				shift += 2
			}
		}
		keys = append(keys, key)
	}
	if r.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return keys
}

// ContextString decodes a context key back to its bases.
func ContextString(key int) string {
	if key < 0 {
		return "N"
	}
	n := key & (1<<contextLengthBits - 1)
	bases := make([]byte, n)
	key >>= contextLengthBits
	for i := 0; i < n; i++ {
		bases[i] = "ACGT"[key&3]
		key >>= 2
	}
	return string(bases)
}
