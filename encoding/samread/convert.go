// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package samread

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/hts/sam"
)

var (
	rgTag = sam.NewTag("RG")
	plTag = sam.NewTag("PL")
	mdTag = sam.NewTag("MD")
	biTag = sam.NewTag("BI")
	bdTag = sam.NewTag("BD")
	csTag = sam.NewTag("CS")
	zcTag = sam.NewTag("ZC")
)

// Opts configures a Converter.
type Opts struct {
	// ForcePlatform, if nonempty, replaces the platform of every read group.
	ForcePlatform string
	// DefaultPlatform is the platform of read groups without a PL field.
	DefaultPlatform string
}

// Converter turns sam.Records of one header into bqsr.Reads. Thread
// compatible.
type Converter struct {
	readGroups map[string]int
	platforms  []string
	// mdMismatch is scratch space for the MD tag expansion.
	mdMismatch []bool
}

// NewConverter creates a converter for records described by h. Read groups
// are numbered in header order. A header without read groups gets a single
// implicit group, index 0, that every record belongs to.
func NewConverter(h *sam.Header, opts Opts) (*Converter, error) {
	c := &Converter{readGroups: make(map[string]int)}
	for i, rg := range h.RGs() {
		if _, ok := c.readGroups[rg.Name()]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("samread: duplicate read group %s in header", rg.Name()))
		}
		c.readGroups[rg.Name()] = i
		c.platforms = append(c.platforms, platform(rg.Get(plTag), opts))
	}
	if len(c.platforms) == 0 {
		c.platforms = []string{platform("", opts)}
	}
	return c, nil
}

func platform(pl string, opts Opts) string {
	if opts.ForcePlatform != "" {
		return opts.ForcePlatform
	}
	if pl == "" {
		return opts.DefaultPlatform
	}
	return pl
}

// NumReadGroups returns the number of read group indexes Convert may produce.
func (c *Converter) NumReadGroups() int { return len(c.platforms) }

// Platform returns the effective platform of the i'th read group.
func (c *Converter) Platform(i int) string { return c.platforms[i] }

// Usable returns true if rec should be considered for recalibration at all:
// it is a primary, non-duplicate alignment with a meaningful mapping quality
// and per-base qualities. Reads failing vendor QC are usable; the accumulator
// accounts for them.
func Usable(rec *sam.Record) bool {
	const skipFlags = sam.Unmapped | sam.Secondary | sam.Supplementary | sam.Duplicate
	if rec.Flags&skipFlags != 0 {
		return false
	}
	if rec.MapQ == 0 || rec.MapQ == 255 {
		return false
	}
	n := rec.Seq.Length
	if n == 0 || len(rec.Qual) != n || rec.Qual[0] == 0xff {
		return false
	}
	return true
}

func auxString(rec *sam.Record, tag sam.Tag) (string, bool) {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	s, ok := aux.Value().(string)
	return s, ok
}

func malformed(rec *sam.Record, format string, args ...interface{}) error {
	return errors.E(errors.Precondition, fmt.Sprintf("samread: read %s: ", rec.Name)+fmt.Sprintf(format, args...))
}

// resizeBools returns a zeroed slice of length n, reusing buf when possible.
func resizeBools(buf []bool, n int) []bool {
	if cap(buf) < n {
		return make([]bool, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = false
	}
	return buf
}

// phred33 decodes a BI/BD style quality string into dst.
func phred33(dst []byte, s string) []byte {
	dst = dst[:0]
	for i := 0; i < len(s); i++ {
		dst = append(dst, s[i]-33)
	}
	return dst
}

// Convert fills r from rec. Slices already held by r are reused. The caller
// should check Usable first; Convert itself only rejects records it cannot
// represent.
func (c *Converter) Convert(rec *sam.Record, r *bqsr.Read) error {
	n := rec.Seq.Length
	if len(rec.Qual) != n {
		return malformed(rec, "%d qualities for %d bases", len(rec.Qual), n)
	}
	r.Name = rec.Name
	r.ReadGroup = 0
	if len(c.readGroups) > 0 {
		id, ok := auxString(rec, rgTag)
		if !ok {
			return malformed(rec, "no RG tag")
		}
		if r.ReadGroup, ok = c.readGroups[id]; !ok {
			return malformed(rec, "read group %s not in header", id)
		}
	}
	r.Platform = c.platforms[r.ReadGroup]
	r.Bases = append(r.Bases[:0], rec.Seq.Expand()...)
	r.Quals = append(r.Quals[:0], rec.Qual...)
	r.Reverse = rec.Flags&sam.Reverse != 0
	r.SecondOfPair = rec.Flags&sam.Paired != 0 && rec.Flags&sam.Read2 != 0
	r.FailedQC = rec.Flags&sam.QCFail != 0

	r.InsertionQuals, r.DeletionQuals = r.InsertionQuals[:0], r.DeletionQuals[:0]
	for _, q := range []struct {
		tag sam.Tag
		dst *[]byte
	}{{biTag, &r.InsertionQuals}, {bdTag, &r.DeletionQuals}} {
		s, ok := auxString(rec, q.tag)
		if !ok {
			*q.dst = nil
			continue
		}
		if len(s) != n {
			return malformed(rec, "%s tag has %d qualities for %d bases", q.tag, len(s), n)
		}
		*q.dst = phred33(*q.dst, s)
	}

	r.ColorSpace = r.ColorSpace[:0]
	if aux := rec.AuxFields.Get(csTag); aux == nil {
		r.ColorSpace = nil
	} else if cs, ok := aux.Value().(string); ok {
		r.ColorSpace = append(r.ColorSpace, cs...)
	} else {
		return malformed(rec, "CS tag has type %c, want a string", aux.Type())
	}
	r.InconsistencyTagged = rec.AuxFields.Get(zcTag) != nil

	for _, e := range bqsr.EventTypes {
		r.Errors[e] = resizeBools(r.Errors[e], n)
	}
	r.Skip = resizeBools(r.Skip, n)
	return c.events(rec, r)
}

// expandMD returns one entry per reference base aligned to a read base,
// true where the MD tag records a mismatch.
func expandMD(md string, buf []bool) ([]bool, error) {
	buf = buf[:0]
	for i := 0; i < len(md); {
		switch ch := md[i]; {
		case ch >= '0' && ch <= '9':
			n := 0
			for ; i < len(md) && md[i] >= '0' && md[i] <= '9'; i++ {
				n = n*10 + int(md[i]-'0')
			}
			for ; n > 0; n-- {
				buf = append(buf, false)
			}
		case ch == '^':
			// Deleted reference bases are not aligned to the read.
			for i++; i < len(md) && !(md[i] >= '0' && md[i] <= '9'); i++ {
			}
		case (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z'):
			buf = append(buf, true)
			i++
		default:
			return buf, fmt.Errorf("invalid character %q in MD tag %q", ch, md)
		}
	}
	return buf, nil
}

// events derives the error flags and the skip mask of r from the CIGAR and
// MD tag of rec. Indel events follow the convention of attributing an
// insertion or deletion to the read base that precedes it in sequencing
// order.
func (c *Converter) events(rec *sam.Record, r *bqsr.Read) error {
	n := len(r.Bases)
	var (
		md    []bool
		hasMD bool
	)
	if s, ok := auxString(rec, mdTag); ok {
		var err error
		if c.mdMismatch, err = expandMD(s, c.mdMismatch); err != nil {
			return malformed(rec, "%v", err)
		}
		md, hasMD = c.mdMismatch, true
	}
	mismatch, insertion, deletion := r.Errors[bqsr.Mismatch], r.Errors[bqsr.Insertion], r.Errors[bqsr.Deletion]
	// mark flags the base before read offset pos in sequencing order.
	mark := func(flags []bool, pos int) {
		if r.Reverse {
			if pos < n {
				flags[pos] = true
			}
		} else if pos > 0 {
			flags[pos-1] = true
		}
	}
	pos, aligned := 0, 0
	for _, co := range rec.Cigar {
		l := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if pos+l > n {
				return malformed(rec, "CIGAR %v is longer than the read", rec.Cigar)
			}
			for i := 0; i < l; i++ {
				switch {
				case hasMD:
					if aligned >= len(md) {
						return malformed(rec, "MD tag is shorter than CIGAR %v", rec.Cigar)
					}
					mismatch[pos+i] = md[aligned]
				case co.Type() == sam.CigarMatch:
					return malformed(rec, "no MD tag to resolve CIGAR %v", rec.Cigar)
				default:
					mismatch[pos+i] = co.Type() == sam.CigarMismatch
				}
				aligned++
			}
			pos += l
		case sam.CigarInsertion:
			if pos+l > n {
				return malformed(rec, "CIGAR %v is longer than the read", rec.Cigar)
			}
			if r.Reverse {
				mark(insertion, pos+l)
			} else {
				mark(insertion, pos)
			}
			pos += l
		case sam.CigarDeletion:
			mark(deletion, pos)
		case sam.CigarSoftClipped:
			if pos+l > n {
				return malformed(rec, "CIGAR %v is longer than the read", rec.Cigar)
			}
			for i := pos; i < pos+l; i++ {
				r.Skip[i] = true
			}
			pos += l
		}
	}
	if pos != n {
		return malformed(rec, "CIGAR %v covers %d of %d bases", rec.Cigar, pos, n)
	}
	if hasMD && aligned != len(md) {
		return malformed(rec, "MD tag describes %d aligned bases, CIGAR %d", len(md), aligned)
	}
	return nil
}
