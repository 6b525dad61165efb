// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package readsource provides sharded, parallel access to the aligned reads
// of one or more BAM or SAM files.
package readsource
