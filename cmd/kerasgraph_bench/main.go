// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kerasgraph_bench builds a stack of Dense layers and executes it repeatedly, reporting the time per step,
// the plan cache statistics and the high/low watermarks of live tensors.
//
// Example:
//
//	kerasgraph_bench -units=256,256,10 -batch=64 -steps=1000 -parallelism=4
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/support/xslices"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagUnits       = xslices.Flag("units", []int{64, 64, 10}, "Comma-separated number of units of each Dense layer.", strconv.Atoi)
	flagFeatures    = flag.Int("features", 32, "Number of input features.")
	flagBatch       = flag.Int("batch", 32, "Batch size.")
	flagSteps       = flag.Int("steps", 100, "Number of executions.")
	flagParallelism = flag.Int("parallelism", 1, "Maximum number of operations evaluated in parallel.")
	flagActivation  = flag.String("activation", "relu", "Activation of the Dense layers.")
	flagDropout     = flag.Float64("dropout", 0, "Dropout rate after each Dense layer; 0 disables dropout.")
	flagTraining    = flag.Bool("training", false, "Execute in training mode: dropout is active and intermediate values are kept.")
	flagSeed        = flag.Uint64("seed", 42, "Seed for the random initialization of weights and inputs.")
	flagSummary     = flag.Bool("summary", false, "Print the model summary before running.")
	flagNoBar       = flag.Bool("nobar", false, "Disable the progress bar.")
	flagPrint       = flag.Bool("print", false, "Print the output of the last step.")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	keyStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1).Align(lipgloss.Right)
	valueStyle = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1).Align(lipgloss.Left)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	cfg := config{
		Units:       *flagUnits,
		Features:    *flagFeatures,
		BatchSize:   *flagBatch,
		Steps:       *flagSteps,
		Parallelism: *flagParallelism,
		Activation:  *flagActivation,
		Dropout:     *flagDropout,
		Training:    *flagTraining,
		Seed:        *flagSeed,
	}
	var s *stats
	err := exceptions.TryCatch[error](func() {
		m, err := buildModel(cfg)
		if err != nil {
			panic(err)
		}
		if *flagSummary {
			fmt.Println(m.Summary())
		}
		var bar *progressbar.ProgressBar
		if !*flagNoBar {
			bar = newProgressBar(cfg.Steps)
		}
		s, err = run(m, cfg, func(int) {
			if bar != nil {
				_ = bar.Add(1)
			}
		})
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			panic(err)
		}
		fmt.Println(titleStyle.Render("Model"))
		fmt.Println(modelTable(cfg, len(m.Layers()), m.NumParams()).Render())
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	fmt.Println(titleStyle.Render("Execution"))
	fmt.Println(statsTable(s).Render())
	if *flagPrint {
		fmt.Println(titleStyle.Render("Output"))
		fmt.Println(s.LastOutput)
	}
	// Training keeps intermediate values alive, so only inference is checked for leaks.
	if !cfg.Training && s.LiveAfter != s.LiveBefore {
		klog.Warningf("%d tensors leaked during execution", s.LiveAfter-s.LiveBefore)
	}
}

func newProgressBar(numSteps int) *progressbar.ProgressBar {
	colors := termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
	return progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("steps"),
		progressbar.OptionEnableColorCodes(colors),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish())
}

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		})
}

func modelTable(cfg config, numLayers, numParams int) *lgtable.Table {
	table := newTable()
	table.Row("units", fmt.Sprintf("%v", cfg.Units))
	table.Row("activation", cfg.Activation)
	table.Row("# layers with weights", humanize.Comma(int64(numLayers)))
	table.Row("# parameters", humanize.Comma(int64(numParams)))
	table.Row("# bytes (float32)", humanize.Bytes(uint64(numParams)*4))
	return table
}

func statsTable(s *stats) *lgtable.Table {
	table := newTable()
	table.Row("steps", humanize.Comma(int64(s.Steps)))
	table.Row("operations per step", humanize.Comma(int64(s.NumOperation)))
	table.Row("output shape", s.OutputShape.String())
	table.Row("total time", s.Elapsed.String())
	if s.Steps > 0 {
		table.Row("time per step", (s.Elapsed / time.Duration(s.Steps)).String())
	}
	table.Row("plan cache hits / misses", fmt.Sprintf("%s / %s",
		humanize.Comma(int64(s.PlanHits)), humanize.Comma(int64(s.PlanMisses))))
	if s.Probe.NumRecords > 0 {
		table.Row("live tensors (min / max)", fmt.Sprintf("%s / %s",
			humanize.Comma(int64(s.Probe.MinNumTensors)), humanize.Comma(int64(s.Probe.MaxNumTensors))))
	} else {
		table.Row("live tensors (min / max)", "n/a")
	}
	table.Row("live tensors (before / after)", fmt.Sprintf("%s / %s",
		humanize.Comma(int64(s.LiveBefore)), humanize.Comma(int64(s.LiveAfter))))
	return table
}
