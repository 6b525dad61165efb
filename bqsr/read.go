// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Read is a decoded, aligned read in the form the accumulator consumes. All
// per-base slices are in reference (SAM) orientation and have len(Bases)
// entries unless noted otherwise.
type Read struct {
	// Name is used only in error messages.
	Name string
	// ReadGroup is the index of the read's group in the header.
	ReadGroup int
	// Platform is the PL value of the read group, e.g., "ILLUMINA".
	Platform string
	// Bases holds the called bases as ASCII.
	Bases []byte
	// Quals holds the per-base phred qualities (not ASCII-offset).
	Quals []byte
	// InsertionQuals and DeletionQuals hold the BI/BD qualities. A nil slice
	// means every base uses Opts.DefaultIndelQuality.
	InsertionQuals []byte
	DeletionQuals  []byte
	// Errors[e][i] is true if base i carries an error of type e. A nil slice
	// means no error of that type in the read.
	Errors [NumEventTypes][]bool
	// Skip[i] is true for bases that must not be counted, e.g., soft clips.
	// May be nil.
	Skip []bool
	// Reverse is true if the read is aligned to the reverse strand.
	Reverse bool
	// SecondOfPair is true for the second read of a pair.
	SecondOfPair bool
	// FailedQC is true if the read fails vendor quality checks. The color
	// space filter sets it under the MarkFailingQC policy.
	FailedQC bool
	// ColorSpace is the raw CS attribute: an anchor base followed by one color
	// digit per base, in sequencing orientation. Nil if absent.
	ColorSpace []byte
	// InconsistencyTagged is true if the read already carries a ZC tag, i.e.,
	// it went through color space correction upstream.
	InconsistencyTagged bool
}

// Len returns the number of bases in the read.
func (r *Read) Len() int { return len(r.Bases) }

// quality returns the reported quality of base i for the given event.
func (r *Read) quality(e EventType, i, defaultIndelQuality int) int {
	switch e {
	case Insertion:
		if r.InsertionQuals != nil {
			return int(r.InsertionQuals[i])
		}
		return defaultIndelQuality
	case Deletion:
		if r.DeletionQuals != nil {
			return int(r.DeletionQuals[i])
		}
		return defaultIndelQuality
	}
	return int(r.Quals[i])
}

// validate checks the per-base slices against the read length.
func (r *Read) validate() error {
	n := len(r.Bases)
	check := func(what string, l int, optional bool) error {
		if (optional && l == 0) || l == n {
			return nil
		}
		return errors.E(errors.Precondition, fmt.Sprintf("bqsr: read %s: %s has %d entries, want %d", r.Name, what, l, n))
	}
	if err := check("quality", len(r.Quals), false); err != nil {
		return err
	}
	if r.InsertionQuals != nil {
		if err := check("insertion quality", len(r.InsertionQuals), false); err != nil {
			return err
		}
	}
	if r.DeletionQuals != nil {
		if err := check("deletion quality", len(r.DeletionQuals), false); err != nil {
			return err
		}
	}
	for _, e := range EventTypes {
		if err := check(e.String()+" errors", len(r.Errors[e]), true); err != nil {
			return err
		}
	}
	return check("skip mask", len(r.Skip), true)
}
