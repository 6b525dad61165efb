// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"io"
	"sync"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// FileProvider implements Provider for a list of BAM or SAM files. Paths may
// be S3 URLs, in which case the data will be read from S3. Otherwise the data
// will be read from the local filesystem.
type FileProvider struct {
	// Paths lists the input files. Must be nonempty.
	Paths []string
	// Type, if not Unknown, overrides the type guessed from each path.
	Type FileType
	err  errorreporter.T

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

// recordReader is the part of bam.Reader and sam.Reader the iterator needs.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

type fileIterator struct {
	provider *FileProvider
	path     string
	in       file.File
	reader   recordReader
	closer   io.Closer

	err  error
	next *sam.Record
}

// open opens path and parses its header. ft is the file type, or Unknown to
// guess it from path.
func open(path string, ft FileType) (file.File, recordReader, io.Closer, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, nil, err
	}
	if ft == Unknown {
		ft = GuessFileType(path)
	}
	if ft == SAM {
		r, err := sam.NewReader(in.Reader(ctx))
		if err != nil {
			_ = in.Close(ctx)
			return nil, nil, nil, err
		}
		return in, r, nil, nil
	}
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		_ = in.Close(ctx)
		return nil, nil, nil, err
	}
	return in, r, r, nil
}

// GetHeader implements the Provider interface. It returns the header of the
// first file, after checking that every file lists the same read groups.
func (p *FileProvider) GetHeader() (*sam.Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.header != nil {
		return p.header, nil
	}
	ctx := vcontext.Background()
	var header *sam.Header
	for _, path := range p.Paths {
		in, r, closer, err := open(path, p.Type)
		if err != nil {
			p.err.Set(err)
			return nil, err
		}
		h := r.Header()
		if closer != nil {
			p.err.Set(closer.Close())
		}
		p.err.Set(in.Close(ctx))
		if header == nil {
			header = h
			continue
		}
		if err := checkCompatible(header, h, path); err != nil {
			p.err.Set(err)
			return nil, err
		}
	}
	vlog.VI(1).Infof("readsource: %d files, read groups %v", len(p.Paths), ReadGroupIDs(header))
	p.header = header
	return p.header, nil
}

// GenerateShards implements the Provider interface.
func (p *FileProvider) GenerateShards() ([]Shard, error) {
	if _, err := p.GetHeader(); err != nil {
		return nil, err
	}
	shards := make([]Shard, len(p.Paths))
	for i, path := range p.Paths {
		shards[i] = Shard{Index: i, Path: path}
	}
	return shards, nil
}

// NewIterator implements the Provider interface.
func (p *FileProvider) NewIterator(shard Shard) Iterator {
	in, r, closer, err := open(shard.Path, p.Type)
	if err != nil {
		p.err.Set(err)
		return NewErrorIterator(err)
	}
	p.mu.Lock()
	p.nActive++
	p.mu.Unlock()
	vlog.VI(1).Infof("%v: start reading", shard)
	return &fileIterator{provider: p, path: shard.Path, in: in, reader: r, closer: closer}
}

// Close implements the Provider interface.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", p.nActive, p.Paths)
	}
	return p.err.Err()
}

// Scan implements the Iterator interface.
func (i *fileIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	i.next, i.err = i.reader.Read()
	return i.err == nil
}

// Record implements the Iterator interface.
func (i *fileIterator) Record() *sam.Record {
	return i.next
}

// Err implements the Iterator interface.
func (i *fileIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *fileIterator) Close() error {
	if i.closer != nil {
		if err := i.closer.Close(); err != nil && i.Err() == nil {
			i.err = err
		}
	}
	if err := i.in.Close(vcontext.Background()); err != nil && i.Err() == nil {
		i.err = err
	}
	err := i.Err()
	i.provider.err.Set(err)
	i.provider.mu.Lock()
	i.provider.nActive--
	i.provider.mu.Unlock()
	vlog.VI(1).Infof("%s: done reading, err %v", i.path, err)
	return err
}
