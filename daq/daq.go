// Package daq defines the boundary to hardware-timed waveform output:
// buffered analog/digital tasks and discrete digital lines.  The
// simulated implementations in this package stand in for the real
// generator hardware.
package daq

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned when a task is used after Close
var ErrClosed = errors.New("daq: task is closed")

// Task is one hardware-timed output task.  The legal call sequence is
// Write, Start, WaitUntilDone, Stop, with Start..Stop repeatable, and
// Close exactly once at the end of life.
type Task interface {
	// Write renders a sample buffer into the task
	Write(samples []float64) error

	// Start arms the task; output begins on the hardware trigger
	Start() error

	// WaitUntilDone blocks until the programmed cycle completes or the
	// timeout elapses
	WaitUntilDone(timeout time.Duration) error

	// Stop disarms the task; it may be started again without rewriting
	Stop() error

	// Close releases the task's buffers
	Close() error
}

// Device creates output tasks
type Device interface {
	// NewTask allocates a task on the given channels at the given sample
	// rate
	NewTask(name string, channels []string, sampleRate int) (Task, error)
}

// Line is a discrete digital output, e.g. a shutter or laser enable line
type Line interface {
	// Set drives the line high (true) or low (false)
	Set(high bool) error
}

// task lifecycle states for the simulator
const (
	simIdle = iota
	simWritten
	simStarted
	simClosed
)

// SimDevice is an in-memory Device for tests and mock servers.  It
// tracks how many tasks are open so leak checks are cheap.
type SimDevice struct {
	mu sync.Mutex

	// CycleTime is how long WaitUntilDone blocks; zero returns at once
	CycleTime time.Duration

	open   int
	cycles int
}

// NewSim returns a simulated DAQ
func NewSim() *SimDevice {
	return &SimDevice{}
}

// NewTask allocates a simulated task
func (d *SimDevice) NewTask(name string, channels []string, sampleRate int) (Task, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("daq: sample rate %d is not positive", sampleRate)
	}
	d.mu.Lock()
	d.open++
	d.mu.Unlock()
	return &simTask{dev: d, name: name, channels: channels, rate: sampleRate}, nil
}

// OpenTasks returns the number of tasks created and not yet closed
func (d *SimDevice) OpenTasks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Cycles returns the number of completed WaitUntilDone calls across all
// tasks
func (d *SimDevice) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

type simTask struct {
	dev      *SimDevice
	name     string
	channels []string
	rate     int

	mu      sync.Mutex
	state   int
	samples []float64
}

func (t *simTask) Write(samples []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == simClosed {
		return ErrClosed
	}
	if t.state == simStarted {
		return fmt.Errorf("daq: task %s written while started", t.name)
	}
	t.samples = append(t.samples[:0], samples...)
	t.state = simWritten
	return nil
}

func (t *simTask) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == simClosed {
		return ErrClosed
	}
	if t.state != simWritten {
		return fmt.Errorf("daq: task %s started before write", t.name)
	}
	t.state = simStarted
	return nil
}

func (t *simTask) WaitUntilDone(timeout time.Duration) error {
	t.mu.Lock()
	if t.state == simClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != simStarted {
		t.mu.Unlock()
		return fmt.Errorf("daq: task %s waited on before start", t.name)
	}
	cycle := t.dev.CycleTime
	t.mu.Unlock()
	if cycle > timeout {
		return fmt.Errorf("daq: task %s did not finish within %v", t.name, timeout)
	}
	time.Sleep(cycle)
	t.dev.mu.Lock()
	t.dev.cycles++
	t.dev.mu.Unlock()
	return nil
}

func (t *simTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == simClosed {
		return ErrClosed
	}
	if t.state == simStarted {
		t.state = simWritten
	}
	return nil
}

func (t *simTask) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == simClosed {
		return ErrClosed
	}
	t.state = simClosed
	t.dev.mu.Lock()
	t.dev.open--
	t.dev.mu.Unlock()
	return nil
}

// Samples returns a copy of the last written buffer, for tests
func (t *simTask) Samples() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.samples))
	copy(out, t.samples)
	return out
}

// SimLine is an in-memory digital line
type SimLine struct {
	mu    sync.Mutex
	level bool
	sets  int
}

// Set drives the simulated line
func (l *SimLine) Set(high bool) error {
	l.mu.Lock()
	l.level = high
	l.sets++
	l.mu.Unlock()
	return nil
}

// Level reports the current line level
func (l *SimLine) Level() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Sets reports how many times the line has been driven
func (l *SimLine) Sets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sets
}
