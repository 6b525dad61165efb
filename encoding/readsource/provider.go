// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Shard identifies a unit of work. Records of different shards are disjoint,
// and every record of the input belongs to exactly one shard.
type Shard struct {
	// Index is the position of the shard in the GenerateShards result.
	Index int
	// Path is the file the shard reads.
	Path string
}

func (s Shard) String() string { return fmt.Sprintf("shard%d:%s", s.Index, s.Path) }

// Provider allows reading a set of alignment files in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header shared by all inputs. The caller must not
	// modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// GenerateShards splits the input into disjoint shards. Use NewIterator
	// to read the records of a shard.
	//
	// REQUIRES: Close has not been called.
	GenerateShards() ([]Shard, error)

	// NewIterator returns an iterator over the records of the shard.
	//
	// REQUIRES: Close has not been called.
	NewIterator(shard Shard) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over the sam.Records of a shard, in file order. Thread
// compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If an error
	// occurs, Scan returns false and the error can be retrieved by calling
	// Err.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan returns true. The record remains
	// valid until the next call to Scan.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil if no error
	// occurred. io.EOF is translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err.
	Close() error
}

// FileType represents the type of an alignment file.
type FileType int

const (
	// Unknown is a sentinel.
	Unknown FileType = iota
	// BAM file
	BAM
	// SAM file
	SAM
)

// ParseFileType parses the file type string. "bam" returns BAM, for example.
// On error, it returns Unknown.
func ParseFileType(name string) FileType {
	switch strings.ToLower(name) {
	case "bam":
		return BAM
	case "sam":
		return SAM
	}
	return Unknown
}

// GuessFileType returns the file type from the pathname.
func GuessFileType(path string) FileType {
	switch {
	case strings.HasSuffix(path, ".bam"):
		return BAM
	case strings.HasSuffix(path, ".sam"):
		return SAM
	}
	return Unknown
}

// NewProvider creates a Provider that reads the given files, one shard per
// file. The file type of each path is autodetected; paths of unknown type are
// read as BAM.
func NewProvider(paths ...string) (Provider, error) {
	return NewProviderOfType(Unknown, paths...)
}

// NewProviderOfType is like NewProvider, but reads every path as a file of
// type ft regardless of its name. Unknown selects autodetection.
func NewProviderOfType(ft FileType, paths ...string) (Provider, error) {
	if len(paths) == 0 {
		return nil, errors.E(errors.Invalid, "readsource: no input files")
	}
	return &FileProvider{Paths: paths, Type: ft}, nil
}

// ReadGroupIDs lists the IDs of the read groups of h, in header order.
func ReadGroupIDs(h *sam.Header) []string {
	rgs := h.RGs()
	ids := make([]string, len(rgs))
	for i, rg := range rgs {
		ids[i] = rg.Name()
	}
	return ids
}

// checkCompatible verifies that h lists the same read groups, in the same
// order, as want. Read group indexes are only meaningful across shards if
// this holds.
func checkCompatible(want, h *sam.Header, path string) error {
	a, b := ReadGroupIDs(want), ReadGroupIDs(h)
	if len(a) != len(b) {
		return errors.E(errors.Precondition, fmt.Sprintf("readsource: %s has %d read groups, want %d", path, len(b), len(a)))
	}
	for i := range a {
		if a[i] != b[i] {
			return errors.E(errors.Precondition, fmt.Sprintf("readsource: %s: read group %d is %s, want %s", path, i, b[i], a[i]))
		}
	}
	return nil
}
