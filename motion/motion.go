// Package motion contains the stage worker: an independently-running
// collaborator that executes moves for the acquisition engine, with
// blocking ("wait until done") and fire-and-forget variants.
package motion

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/openlsm/lightctl/state"
)

// DefaultAckTimeout bounds how long a blocking request waits for the
// worker's acknowledgment before giving up
const DefaultAckTimeout = 30 * time.Second

// Controller describes a rudimentary motion controller.  Moves block
// until the device confirms completion.
type Controller interface {
	// GetPos gets the current position of an axis
	GetPos(axis string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(axis string, pos float64) error

	// MoveRel moves an axis an incremental distance
	MoveRel(axis string, dist float64) error

	// Stop aborts any in-flight motion on an axis
	Stop(axis string) error
}

type motionKind int

const (
	motionMove motionKind = iota
	motionZero
	motionUnzero
	motionSync
)

type motionReq struct {
	kind     motionKind
	targets  map[string]float64
	relative bool
	axes     []string
	done     chan error
}

// Worker runs the stage on its own goroutine.  Requests are delivered
// and processed strictly in issue order; blocking variants do not return
// until the worker acknowledges completion or the ack timeout elapses.
type Worker struct {
	ctl   Controller
	store *state.Store

	// AckTimeout bounds blocking requests; zero means DefaultAckTimeout
	AckTimeout time.Duration

	reqs chan motionReq
	quit chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	axes    []string
	offsets map[string]float64
}

// NewWorker returns a Worker driving ctl over the given axes, mirroring
// positions into store after every request.  store may be nil.  Call
// Start to launch it.
func NewWorker(ctl Controller, axes []string, store *state.Store) *Worker {
	return &Worker{
		ctl:     ctl,
		store:   store,
		axes:    append([]string{}, axes...),
		offsets: map[string]float64{},
		reqs:    make(chan motionReq, 64),
		quit:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.  Starting twice is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

// Shutdown requests a graceful quit and waits for queued requests to
// drain.  It is idempotent and a no-op if the worker was never started.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	done := make(chan error, 1)
	w.send(motionReq{kind: motionSync, done: done})
	<-done
	close(w.quit)
}

// MoveRel moves each axis in deltas by the given amount.  With block
// set, it waits for completion of the whole request.
func (w *Worker) MoveRel(deltas map[string]float64, block bool) error {
	return w.move(deltas, true, block)
}

// MoveAbs moves each axis in targets to the given position.  With block
// set, it waits for completion of the whole request.
func (w *Worker) MoveAbs(targets map[string]float64, block bool) error {
	return w.move(targets, false, block)
}

func (w *Worker) move(targets map[string]float64, relative, block bool) error {
	cp := make(map[string]float64, len(targets))
	for k, v := range targets {
		cp[k] = v
	}
	req := motionReq{kind: motionMove, targets: cp, relative: relative}
	if !block {
		w.send(req)
		return nil
	}
	req.done = make(chan error, 1)
	w.send(req)
	return w.await(req.done)
}

// ZeroAxes redefines the current position of each axis as zero
func (w *Worker) ZeroAxes(axes []string) {
	w.send(motionReq{kind: motionZero, axes: append([]string{}, axes...)})
}

// UnzeroAxes restores the device coordinate frame on each axis
func (w *Worker) UnzeroAxes(axes []string) {
	w.send(motionReq{kind: motionUnzero, axes: append([]string{}, axes...)})
}

// StopMotion aborts in-flight motion on all axes.  It bypasses the
// request queue so an abort is not stuck behind a long move.
func (w *Worker) StopMotion() {
	for _, axis := range w.axes {
		if err := w.ctl.Stop(axis); err != nil {
			log.Println("motion: stopping axis", axis, "failed:", err)
		}
	}
}

// Positions returns the last known zeroed position of every axis
func (w *Worker) Positions() map[string]float64 {
	w.mu.Lock()
	offs := make(map[string]float64, len(w.offsets))
	for k, v := range w.offsets {
		offs[k] = v
	}
	axes := append([]string{}, w.axes...)
	w.mu.Unlock()

	out := make(map[string]float64, len(axes))
	for _, axis := range axes {
		pos, err := w.ctl.GetPos(axis)
		if err != nil {
			continue
		}
		out[axis] = pos - offs[axis]
	}
	return out
}

func (w *Worker) send(r motionReq) {
	select {
	case w.reqs <- r:
	case <-w.quit:
		if r.done != nil {
			r.done <- fmt.Errorf("motion: worker is shut down")
		}
	}
}

func (w *Worker) await(done chan error) error {
	timeout := w.AckTimeout
	if timeout == 0 {
		timeout = DefaultAckTimeout
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("motion: no acknowledgment within %v", timeout)
	}
}

func (w *Worker) loop() {
	for {
		select {
		case r := <-w.reqs:
			err := w.handle(r)
			if r.done != nil {
				r.done <- err
			} else if err != nil {
				log.Println("motion:", err)
			}
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) handle(r motionReq) error {
	switch r.kind {
	case motionMove:
		// deterministic axis order within one request
		axes := make([]string, 0, len(r.targets))
		for axis := range r.targets {
			axes = append(axes, axis)
		}
		sort.Strings(axes)
		for _, axis := range axes {
			var err error
			if r.relative {
				err = w.ctl.MoveRel(axis, r.targets[axis])
			} else {
				w.mu.Lock()
				off := w.offsets[axis]
				w.mu.Unlock()
				err = w.ctl.MoveAbs(axis, r.targets[axis]+off)
			}
			if err != nil {
				return fmt.Errorf("moving axis %s: %w", axis, err)
			}
		}
		w.publish()
		return nil
	case motionZero:
		for _, axis := range r.axes {
			pos, err := w.ctl.GetPos(axis)
			if err != nil {
				return fmt.Errorf("zeroing axis %s: %w", axis, err)
			}
			w.mu.Lock()
			w.offsets[axis] = pos
			w.mu.Unlock()
		}
		w.publish()
		return nil
	case motionUnzero:
		w.mu.Lock()
		for _, axis := range r.axes {
			delete(w.offsets, axis)
		}
		w.mu.Unlock()
		w.publish()
		return nil
	case motionSync:
		return nil
	}
	return nil
}

// publish mirrors positions into the shared state as telemetry
func (w *Worker) publish() {
	if w.store == nil {
		return
	}
	for axis, pos := range w.Positions() {
		w.store.SetPosition(axis, pos)
	}
}
