// Package waveform compiles per-plane timing programs for the ETL,
// galvo, laser and camera-trigger channels and runs them as one
// hardware-synchronized cycle per exposure.
package waveform

import (
	"fmt"
	"time"

	"github.com/openlsm/lightctl/daq"
	"github.com/openlsm/lightctl/state"
)

// runMargin pads the cycle timeout beyond the programmed sweep time
const runMargin = time.Second

// the output channels, one task each
var channelNames = []string{
	"etl_l", "etl_r",
	"galvo_l", "galvo_r",
	"laser_l", "laser_r",
	"camera_trigger",
}

// Generator owns the waveform task lifecycle.  The usage patterns are:
//
// single-shot, when parameters may change every frame:
//
//	CreateTasks; WriteWaveforms; StartTasks; RunTasks; StopTasks; CloseTasks
//
// series, amortizing buffer allocation across a stack:
//
//	CreateTasks; WriteWaveforms; {StartTasks; RunTasks; StopTasks}...; CloseTasks
//
// CloseTasks is safe to call with no tasks open, so every exit path can
// end with it unconditionally.
type Generator struct {
	dev   daq.Device
	store *state.Store

	tasks map[string]daq.Task

	// sweeptime and samplerate captured at CreateTasks so one series
	// keeps consistent buffer sizes even if the store changes mid-stack
	sweeptime float64
	rate      int
}

// New returns a Generator sourcing parameters from store and allocating
// tasks on dev
func New(dev daq.Device, store *state.Store) *Generator {
	return &Generator{dev: dev, store: store}
}

// CreateTasks allocates one task per output channel, sized from the
// current sweep time and sample rate.  On any failure the tasks already
// created are closed before returning.
func (g *Generator) CreateTasks() error {
	if g.tasks != nil {
		return fmt.Errorf("waveform: tasks already created")
	}
	g.sweeptime = g.store.Float("sweeptime")
	g.rate = g.store.Int("samplerate")
	tasks := make(map[string]daq.Task, len(channelNames))
	for _, name := range channelNames {
		t, err := g.dev.NewTask(name, []string{name}, g.rate)
		if err != nil {
			for _, open := range tasks {
				open.Close()
			}
			return fmt.Errorf("waveform: creating task %s: %w", name, err)
		}
		tasks[name] = t
	}
	g.tasks = tasks
	return nil
}

// WriteWaveforms renders the sample programs from the current store
// parameters into the task buffers
func (g *Generator) WriteWaveforms() error {
	if g.tasks == nil {
		return fmt.Errorf("waveform: write before create")
	}
	s := g.store
	bufs := map[string][]float64{
		"etl_l": ETLRamp(
			s.Float("etl_l_delay_%"), s.Float("etl_l_ramp_rising_%"),
			s.Float("etl_l_ramp_falling_%"), s.Float("etl_l_amplitude"),
			s.Float("etl_l_offset"), g.sweeptime, g.rate),
		"etl_r": ETLRamp(
			s.Float("etl_r_delay_%"), s.Float("etl_r_ramp_rising_%"),
			s.Float("etl_r_ramp_falling_%"), s.Float("etl_r_amplitude"),
			s.Float("etl_r_offset"), g.sweeptime, g.rate),
		"galvo_l": Sawtooth(
			s.Float("galvo_l_frequency"), s.Float("galvo_l_amplitude"),
			s.Float("galvo_l_offset"), s.Float("galvo_l_duty_cycle"),
			s.Float("galvo_l_phase"), g.sweeptime, g.rate),
		"galvo_r": Sawtooth(
			s.Float("galvo_r_frequency"), s.Float("galvo_r_amplitude"),
			s.Float("galvo_r_offset"), s.Float("galvo_r_duty_cycle"),
			s.Float("galvo_r_phase"), g.sweeptime, g.rate),
		"laser_l": Pulse(
			s.Float("laser_l_delay_%"), s.Float("laser_l_pulse_%"),
			s.Float("laser_l_max_amplitude"), g.sweeptime, g.rate),
		"laser_r": Pulse(
			s.Float("laser_r_delay_%"), s.Float("laser_r_pulse_%"),
			s.Float("laser_r_max_amplitude"), g.sweeptime, g.rate),
		"camera_trigger": Pulse(
			s.Float("camera_delay_%"), s.Float("camera_pulse_%"),
			cameraTriggerHigh, g.sweeptime, g.rate),
	}
	for name, buf := range bufs {
		if err := g.tasks[name].Write(buf); err != nil {
			return fmt.Errorf("waveform: writing task %s: %w", name, err)
		}
	}
	return nil
}

// cameraTriggerHigh is the logic-high level of the camera trigger line
const cameraTriggerHigh = 3.3

// StartTasks arms every task
func (g *Generator) StartTasks() error {
	if g.tasks == nil {
		return fmt.Errorf("waveform: start before create")
	}
	for name, t := range g.tasks {
		if err := t.Start(); err != nil {
			return fmt.Errorf("waveform: starting task %s: %w", name, err)
		}
	}
	return nil
}

// RunTasks blocks until the programmed cycle completes on every task
func (g *Generator) RunTasks() error {
	if g.tasks == nil {
		return fmt.Errorf("waveform: run before create")
	}
	timeout := time.Duration(g.sweeptime*float64(time.Second)) + runMargin
	for name, t := range g.tasks {
		if err := t.WaitUntilDone(timeout); err != nil {
			return fmt.Errorf("waveform: running task %s: %w", name, err)
		}
	}
	return nil
}

// StopTasks disarms every task; they may be started again without a
// rewrite
func (g *Generator) StopTasks() error {
	if g.tasks == nil {
		return fmt.Errorf("waveform: stop before create")
	}
	for name, t := range g.tasks {
		if err := t.Stop(); err != nil {
			return fmt.Errorf("waveform: stopping task %s: %w", name, err)
		}
	}
	return nil
}

// CloseTasks releases all task buffers.  Calling it with no tasks open
// is a no-op, so it is safe on every exit path including stopped-early
// ones.
func (g *Generator) CloseTasks() error {
	if g.tasks == nil {
		return nil
	}
	var firstErr error
	for name, t := range g.tasks {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("waveform: closing task %s: %w", name, err)
		}
	}
	g.tasks = nil
	return firstErr
}

// SingleCycle runs the full single-shot pattern, guaranteeing the tasks
// are closed whether or not the cycle succeeds
func (g *Generator) SingleCycle() error {
	if err := g.CreateTasks(); err != nil {
		return err
	}
	defer g.CloseTasks()
	if err := g.WriteWaveforms(); err != nil {
		return err
	}
	if err := g.StartTasks(); err != nil {
		return err
	}
	if err := g.RunTasks(); err != nil {
		return err
	}
	return g.StopTasks()
}

// PrepareSeries runs the create+write half of the series pattern
func (g *Generator) PrepareSeries() error {
	if err := g.CreateTasks(); err != nil {
		return err
	}
	if err := g.WriteWaveforms(); err != nil {
		g.CloseTasks()
		return err
	}
	return nil
}

// CycleInSeries runs one start+run+stop cycle of a prepared series
func (g *Generator) CycleInSeries() error {
	if err := g.StartTasks(); err != nil {
		return err
	}
	if err := g.RunTasks(); err != nil {
		return err
	}
	return g.StopTasks()
}
