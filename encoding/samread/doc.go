// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package samread converts aligned sam.Records into bqsr.Reads: it extracts
// the read group, platform, qualities and color space attributes, and derives
// the per-base mismatch, insertion and deletion events from the CIGAR and the
// MD tag.
package samread
