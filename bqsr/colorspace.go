// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// PlatformSOLiD is the read group platform that uses color-space encoding.
const PlatformSOLiD = "SOLID"

// NoCallPolicy decides what happens to a SOLiD read whose color space is
// missing or contains a no-call.
type NoCallPolicy int

const (
	// FailFast aborts the shard with an error.
	FailFast NoCallPolicy = iota
	// SkipRead excludes the read from accumulation.
	SkipRead
	// MarkFailingQC sets the read's QC-fail flag and excludes it.
	MarkFailingQC
)

var noCallPolicyNames = []string{"fail-fast", "skip-read", "mark-failing-qc"}

func (p NoCallPolicy) String() string {
	if p < 0 || int(p) >= len(noCallPolicyNames) {
		return fmt.Sprintf("NoCallPolicy(%d)", int(p))
	}
	return noCallPolicyNames[p]
}

// ParseNoCallPolicy parses a policy name. Besides the names produced by
// String, it accepts the GATK spellings THROW_EXCEPTION,
// LEAVE_READ_UNRECALIBRATED and PURGE_READ.
func ParseNoCallPolicy(s string) (NoCallPolicy, error) {
	switch strings.ToLower(s) {
	case "fail-fast", "throw_exception":
		return FailFast, nil
	case "skip-read", "leave_read_unrecalibrated":
		return SkipRead, nil
	case "mark-failing-qc", "purge_read":
		return MarkFailingQC, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("bqsr: %q is not a valid no-call policy", s))
}

const (
	minColor = '0'
	maxColor = '3'
)

// colorTransition[b][c] is the base that follows base b (A=0, C=1, G=2, T=3)
// under color c.
var colorTransition = [4][4]byte{
	{'A', 'C', 'G', 'T'},
	{'C', 'A', 'T', 'G'},
	{'G', 'T', 'A', 'C'},
	{'T', 'G', 'C', 'A'},
}

func baseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return -1
}

func complement(b byte) byte {
	switch b {
	case 'A', 'a':
		return 'T'
	case 'C', 'c':
		return 'G'
	case 'G', 'g':
		return 'C'
	case 'T', 't':
		return 'A'
	}
	return b
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// nextBaseFromColor returns the base the color predicts after prev. Non-ACGT
// bases propagate unchanged.
func nextBaseFromColor(prev, color byte) byte {
	idx := baseIndex(prev)
	if idx < 0 {
		return prev
	}
	return colorTransition[idx][color-minColor]
}

// IsSOLiD returns true if the read comes from a color-space platform.
func IsSOLiD(r *Read) bool {
	return strings.EqualFold(r.Platform, PlatformSOLiD)
}

// Consistency is the outcome of CheckColorSpace for one read.
type Consistency struct {
	// Include is false if the read must not contribute at all.
	Include bool
	// inconsistent is indexed in sequencing orientation. Nil means every base
	// is consistent.
	inconsistent []bool
	reverse      bool
}

// IsConsistent returns true if the base at offset (in reference orientation)
// agrees with the color stream.
func (c *Consistency) IsConsistent(offset int) bool {
	if c.inconsistent == nil {
		return true
	}
	if c.reverse {
		return !c.inconsistent[len(c.inconsistent)-offset-1]
	}
	return !c.inconsistent[offset]
}

// NumInconsistent returns the number of bases that disagree with the color
// stream.
func (c *Consistency) NumInconsistent() int {
	n := 0
	for _, b := range c.inconsistent {
		if b {
			n++
		}
	}
	return n
}

// applyPolicy handles a SOLiD read whose color space is unusable.
func applyPolicy(r *Read, policy NoCallPolicy, kind errors.Kind, msg string) (Consistency, error) {
	switch policy {
	case SkipRead:
		return Consistency{}, nil
	case MarkFailingQC:
		r.FailedQC = true
		return Consistency{}, nil
	}
	return Consistency{}, errors.E(kind, fmt.Sprintf("bqsr: read %s: %s", r.Name, msg))
}

// CheckColorSpace validates a read against its color-space attribute. Reads
// from other platforms (including reads without a platform), and reads
// already tagged by an upstream color space correction, are fully consistent. A SOLiD read with a missing or invalid
// color space is handled according to policy: FailFast returns an error,
// the other policies return a Consistency that excludes the read.
//
// Otherwise the color stream is decoded starting from its anchor base, and
// each decoded base is compared with the called base (reverse-complemented
// for reverse-strand reads).
func CheckColorSpace(r *Read, policy NoCallPolicy) (Consistency, error) {
	if !IsSOLiD(r) || r.InconsistencyTagged {
		return Consistency{Include: true}, nil
	}
	cs := r.ColorSpace
	if cs == nil {
		return applyPolicy(r, policy, errors.Precondition, "SOLiD read without color space (CS) attribute")
	}
	n := len(r.Bases)
	if len(cs) < n+1 {
		return applyPolicy(r, policy, errors.Precondition,
			fmt.Sprintf("color space has %d colors for %d bases", len(cs)-1, n))
	}
	for i := 1; i < len(cs); i++ {
		if cs[i] < minColor || cs[i] > maxColor {
			return applyPolicy(r, policy, errors.Integrity,
				fmt.Sprintf("invalid color %q at position %d", cs[i], i))
		}
	}
	inconsistent := make([]bool, n)
	prev := upper(cs[0])
	for i := 0; i < n; i++ {
		var called byte
		if r.Reverse {
			called = complement(r.Bases[n-i-1])
		} else {
			called = r.Bases[i]
		}
		predicted := nextBaseFromColor(prev, cs[i+1])
		inconsistent[i] = predicted != upper(called)
		prev = predicted
	}
	return Consistency{Include: true, inconsistent: inconsistent, reverse: r.Reverse}, nil
}
