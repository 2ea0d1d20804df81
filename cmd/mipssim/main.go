// Command mipssim runs the six-stage pipeline timing simulator over a
// textual assembly program and a data file, writing per-instruction
// stage-completion times and cache statistics to the output file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mipssim/asm"
	"github.com/sarchlab/mipssim/emu"
	"github.com/sarchlab/mipssim/timing/latency"
	"github.com/sarchlab/mipssim/timing/memsys"
	"github.com/sarchlab/mipssim/timing/pipeline"
)

var (
	showPipe   bool
	dumpRegs   bool
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "mipssim <instFile> <dataFile> <outFile>",
		Short: "Cycle-accurate six-stage pipeline simulator",
		Long: "mipssim simulates a six-stage in-order pipeline with split\n" +
			"direct-mapped caches and a write buffer. It writes the clock tick at\n" +
			"which each fetched instruction leaves the IF, ID, EX, MEM, and WB\n" +
			"stages, followed by cache statistics. End every program with HLT.",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], args[2])
		},
	}

	root.Flags().BoolVarP(&showPipe, "pipeline", "p", false,
		"also print the pipeline occupancy every cycle to stdout")
	root.Flags().BoolVar(&dumpRegs, "dump-regs", false,
		"print the register file after the run")
	root.Flags().StringVar(&configPath, "config", "",
		"path to timing configuration JSON file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(instFile, dataFile, outFile string) error {
	prog, err := asm.AssembleFile(instFile)
	if err != nil {
		return err
	}

	data, err := asm.ParseDataFile(dataFile)
	if err != nil {
		return err
	}

	cfg := latency.DefaultTimingConfig()
	if configPath != "" {
		cfg, err = latency.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ram := emu.NewMemory()
	if err := ram.LoadProgram(prog.Instructions); err != nil {
		return err
	}
	if err := ram.LoadData(data); err != nil {
		return err
	}

	out, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer out.Close()

	mem := memsys.New(cfg, ram)
	regFile := &emu.RegFile{}

	opts := []pipeline.PipelineOption{pipeline.WithOutput(out)}
	if showPipe {
		opts = append(opts, pipeline.WithPipelineTrace(os.Stdout))
	}
	pipe := pipeline.NewPipeline(regFile, mem, opts...)

	err = pipe.Run()

	var diag *memsys.HaltDiagnostic
	switch {
	case errors.As(err, &diag):
		// Recoverable: report and finish without statistics.
		fmt.Println(diag.Error())
	case err != nil:
		return err
	default:
		if _, err := io.WriteString(out, mem.StatsReport()); err != nil {
			return err
		}
	}

	if dumpRegs {
		pipe.DumpRegisters(os.Stdout)
	}
	return nil
}
