// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/exec"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/ml/initializer"
	"github.com/gomlx/kerasgraph/pkg/ml/layers"
	"github.com/gomlx/kerasgraph/pkg/ml/model"
	"github.com/pkg/errors"
)

// config of one benchmark run.
type config struct {
	Units       []int
	Features    int
	BatchSize   int
	Steps       int
	Parallelism int
	Activation  string
	Dropout     float64
	Training    bool
	Seed        uint64
}

// stats collected by run.
type stats struct {
	Elapsed      time.Duration
	Steps        int
	Probe        *exec.Probe
	PlanHits     int
	PlanMisses   int
	LiveBefore   int
	LiveAfter    int
	OutputShape  shapes.Shape
	LastOutput   string
	NumOperation int
}

// buildModel creates a stack of Dense layers, one per entry of units, each followed by a Dropout if dropout > 0.
func buildModel(cfg config) (*model.Model, error) {
	if len(cfg.Units) == 0 {
		return nil, errors.New("at least one layer is required, see -units")
	}
	if cfg.Features <= 0 {
		return nil, errors.Errorf("invalid number of input features %d", cfg.Features)
	}
	g := graph.NewGraph("dense_stack")
	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, cfg.Features))
	h := x
	for ii, units := range cfg.Units {
		if units <= 0 {
			return nil, errors.Errorf("invalid number of units %d for layer #%d", units, ii)
		}
		h = layers.NewDense(fmt.Sprintf("dense_%d", ii), units).
			Activation(cfg.Activation).
			KernelInitializer(initializer.GlorotUniform(cfg.Seed + uint64(ii))).
			Apply(h)
		if cfg.Dropout > 0 {
			h = layers.NewDropout(fmt.Sprintf("dropout_%d", ii), cfg.Dropout, cfg.Seed+uint64(ii)).Apply(h)
		}
	}
	return model.New("dense_stack", []*graph.Node{x}, []*graph.Node{h},
		model.WithParallelism(cfg.Parallelism))
}

// run executes the model cfg.Steps times on a random batch. onStep is called after every step, if not nil.
func run(m *model.Model, cfg config, onStep func(step int)) (*stats, error) {
	batch := initializer.Uniform(cfg.Seed, -1, 1)(shapes.Make(dtypes.Float32, cfg.BatchSize, cfg.Features))
	defer batch.Finalize()
	feeds, err := exec.NewFeedDict(exec.Feed{Node: m.Inputs()[0], Value: batch})
	if err != nil {
		return nil, err
	}

	executor := m.Executor()
	s := &stats{
		Probe:        exec.NewProbe(),
		LiveBefore:   tensors.NumLive(),
		NumOperation: len(m.Graph().Operations()),
	}
	hitsBefore, missesBefore := executor.PlanCache().Hits(), executor.PlanCache().Misses()
	start := time.Now()
	for step := range cfg.Steps {
		outputs, err := executor.Execute(m.Outputs(), feeds, exec.Options{Training: cfg.Training, Probe: s.Probe})
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d", step)
		}
		s.OutputShape = outputs[0].Shape()
		if step == cfg.Steps-1 {
			s.LastOutput = outputs[0].Summary(4)
		}
		for _, output := range outputs {
			output.Finalize()
		}
		s.Steps++
		if onStep != nil {
			onStep(step)
		}
	}
	s.Elapsed = time.Since(start)
	s.PlanHits = executor.PlanCache().Hits() - hitsBefore
	s.PlanMisses = executor.PlanCache().Misses() - missesBefore
	s.LiveAfter = tensors.NumLive()
	return s, nil
}
