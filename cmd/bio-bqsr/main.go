// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

/*
bio-bqsr computes base quality score recalibration tables from aligned reads.

  bio-bqsr scan out.tsv.gz in0.bam in1.bam ...
  bio-bqsr merge out.tsv.gz shard0.tsv.gz shard1.tsv.gz ...
  bio-bqsr model out.tsv.gz
*/

import "github.com/grailbio/bio-bqsr/cmd/bio-bqsr/cmd"

func main() {
	cmd.Run()
}
