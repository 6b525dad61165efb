// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"flag"
	"fmt"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio-bqsr/bqsr"
	"github.com/grailbio/bio-bqsr/encoding/readsource"
	"github.com/grailbio/bio-bqsr/scan"
	"v.io/x/lib/cmdline"
)

// scanFlags holds the flags of the scan subcommand.
type scanFlags struct {
	covariates          *string
	maxCycle            *int
	contextSize         *int
	maxQuality          *int
	minBaseQuality      *int
	defaultIndelQuality *int
	noCallPolicy        *string
	forcePlatform       *string
	defaultPlatform     *string
	parallelism         *int
	perShard            *bool
	format              *string
}

func addScanFlags(fs *flag.FlagSet) scanFlags {
	d := scan.DefaultOpts
	return scanFlags{
		covariates:          fs.String("covariates", strings.Join(d.Covariates, ","), "Comma-separated list of optional covariates; 'cycle' and 'context' are supported"),
		maxCycle:            fs.Int("max-cycle", d.MaxCycle, "Expected maximum machine cycle; sizes the cycle table"),
		contextSize:         fs.Int("context-size", d.ContextSize, "Number of bases in the context covariate"),
		maxQuality:          fs.Int("max-quality", d.MaxQuality, "Expected maximum reported quality; sizes the quality dimension"),
		minBaseQuality:      fs.Int("min-base-qual", d.MinBaseQuality, "Bases reported below this quality are not counted"),
		defaultIndelQuality: fs.Int("default-indel-qual", d.DefaultIndelQuality, "Reported indel quality of reads without BI/BD tags"),
		noCallPolicy:        fs.String("no-call-policy", d.NoCallPolicy.String(), "Handling of SOLiD reads with missing or no-call color space: 'fail-fast', 'skip-read' or 'mark-failing-qc'"),
		forcePlatform:       fs.String("force-platform", "", "If set, overrides the PL field of every read group"),
		defaultPlatform:     fs.String("default-platform", "", "Platform of read groups without a PL field"),
		parallelism:         fs.Int("parallelism", 0, "Maximum number of shards scanned concurrently; 0 = runtime.NumCPU()"),
		perShard:            fs.Bool("per-shard", false, "Write one leaf file per shard instead of merging"),
		format:              fs.String("format", "", "Input format, 'bam' or 'sam'; empty means guess from each file name"),
	}
}

// fileType returns the input type selected by -format.
func (f scanFlags) fileType() (readsource.FileType, error) {
	if *f.format == "" {
		return readsource.Unknown, nil
	}
	ft := readsource.ParseFileType(*f.format)
	if ft == readsource.Unknown {
		return ft, fmt.Errorf("unknown input format %q", *f.format)
	}
	return ft, nil
}

func (f scanFlags) opts() (scan.Opts, error) {
	opts := scan.DefaultOpts
	opts.Covariates = nil
	if *f.covariates != "" {
		opts.Covariates = strings.Split(*f.covariates, ",")
	}
	opts.MaxCycle = *f.maxCycle
	opts.ContextSize = *f.contextSize
	opts.MaxQuality = *f.maxQuality
	opts.MinBaseQuality = *f.minBaseQuality
	opts.DefaultIndelQuality = *f.defaultIndelQuality
	opts.Parallelism = *f.parallelism
	opts.Convert.ForcePlatform = *f.forcePlatform
	opts.Convert.DefaultPlatform = *f.defaultPlatform
	var err error
	if opts.NoCallPolicy, err = bqsr.ParseNoCallPolicy(*f.noCallPolicy); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func newCmdScan() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "scan",
		Short:    "Accumulate recalibration tables from BAM or SAM files",
		ArgsName: "outpath inpath...",
		Long: `
Scan reads every input file as one shard, counts its usable reads into
recalibration tables, and writes the merged tables to outpath as a leaf file.
Outpath is gzip-compressed if it ends in ".gz". With -per-shard, the tables of
shard i are written to outpath with ".shard<i>" inserted before the ".tsv" or
".gz" extension, to be combined later with "merge".`,
	}
	flags := addScanFlags(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 2 {
			return fmt.Errorf("scan takes an output path and at least one input path, but got %v", argv)
		}
		opts, err := flags.opts()
		if err != nil {
			return err
		}
		ft, err := flags.fileType()
		if err != nil {
			return err
		}
		return runScan(vcontext.Background(), argv[0], argv[1:], *flags.perShard, ft, opts)
	})
	return cmd
}

func newCmdMerge() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "merge",
		Short:    "Merge leaf files into one",
		ArgsName: "outpath inpath...",
	}
	parallelism := cmd.Flags.Int("parallelism", 0, "Maximum number of files read, or tables merged, concurrently; 0 = runtime.NumCPU()")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 2 {
			return fmt.Errorf("merge takes an output path and at least one input path, but got %v", argv)
		}
		return runMerge(vcontext.Background(), argv[0], argv[1:], *parallelism)
	})
	return cmd
}

func newCmdModel() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "model",
		Short:    "Print the recalibrated quality of every read group and reported quality",
		ArgsName: "leafpath",
	}
	d := bqsr.DefaultOpts
	minObs := cmd.Flags.Int64("min-observations", d.MinObservations, "Bins with fewer observations inherit the quality of their parent level")
	minQ := cmd.Flags.Int("min-quality", d.Quality.MinQuality, "Lower bound of recalibrated qualities")
	maxQ := cmd.Flags.Int("max-quality", d.Quality.MaxQuality, "Upper bound of recalibrated qualities")
	out := cmd.Flags.String("out", "-", "Output TSV path; '-' means stdout")
	events := cmd.Flags.String("events", "M,I,D", "Comma-separated event types to print: M (mismatch), I (insertion), D (deletion)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("model takes one leaf file, but got %v", argv)
		}
		eventTypes, err := parseEvents(*events)
		if err != nil {
			return err
		}
		q := d.Quality
		q.MinQuality, q.MaxQuality = *minQ, *maxQ
		return runModel(vcontext.Background(), argv[0], *out, env.Stdout, eventTypes, q, *minObs)
	})
	return cmd
}

// Run is the entry point of bio-bqsr.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-bqsr",
			Short:    "Base quality score recalibration tables",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdScan(),
				newCmdMerge(),
				newCmdModel(),
			},
		})
}
