// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	shards [][]*sam.Record
}

type fakeIterator struct {
	recs []*sam.Record
	rec  *sam.Record
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader call, and one shard per element of shards.
func NewFakeProvider(header *sam.Header, shards ...[]*sam.Record) Provider {
	return &fakeProvider{header, shards}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// GenerateShards implements the Provider interface.
func (b *fakeProvider) GenerateShards() ([]Shard, error) {
	shards := make([]Shard, len(b.shards))
	for i := range shards {
		shards[i] = Shard{Index: i, Path: fmt.Sprintf("fake%d", i)}
	}
	return shards, nil
}

// NewIterator implements the Provider interface.
//
// REQUIRES: shard must be the one created by GenerateShards.
func (b *fakeProvider) NewIterator(shard Shard) Iterator {
	return &fakeIterator{recs: b.shards[shard.Index]}
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return nil
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return nil
}

// Scan implements the Iterator interface.
func (i *fakeIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec = i.recs[0]
	i.recs = i.recs[1:]
	return true
}

// Record implements the Iterator interface.
func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
