// Package camera contains the camera worker: an independently-running
// collaborator that accepts series requests from the engine and streams
// frames into an in-memory series buffer.
package camera

import (
	"log"
	"sync"

	"github.com/openlsm/lightctl/acq"
)

// Frame is one captured image, strided row-major 16-bit data
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// FrameSource produces frames from the detector.  Sim provides an
// in-memory source for mock servers and tests.
type FrameSource interface {
	// GetFrame triggers readout of the frame exposed by the last
	// hardware trigger cycle
	GetFrame() (Frame, error)
}

type reqKind int

const (
	reqPrepare reqKind = iota
	reqAppend
	reqEnd
	reqSync
)

type request struct {
	kind reqKind
	acq  acq.Acquisition
	done chan struct{}
}

// Worker runs the camera on its own goroutine.  Requests are processed
// strictly in issue order.  All request methods are fire-and-forget;
// failures are logged, not returned.
type Worker struct {
	src  FrameSource
	reqs chan request
	quit chan struct{}

	// WriteFITS enables dumping each completed series to disk
	WriteFITS bool

	mu      sync.Mutex
	started bool
	stopped bool
	series  *Series
}

// Series is the in-memory buffer for one acquisition's stack
type Series struct {
	Acq    acq.Acquisition
	Frames []Frame
}

// NewWorker returns a Worker reading frames from src.  Call Start to
// launch it.
func NewWorker(src FrameSource) *Worker {
	return &Worker{
		src:  src,
		reqs: make(chan request, 64),
		quit: make(chan struct{}),
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

// Stop requests a graceful quit and waits for the queue to drain.  It is
// idempotent and a no-op if the worker was never started.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.Sync()
	close(w.quit)
}

// PrepareSeries readies an in-memory series for the given acquisition
func (w *Worker) PrepareSeries(a acq.Acquisition) {
	w.send(request{kind: reqPrepare, acq: a})
}

// AppendFrame captures one frame and appends it to the open series
func (w *Worker) AppendFrame() {
	w.send(request{kind: reqAppend})
}

// EndSeries closes the open series, writing it to disk if WriteFITS is
// set.  Ending with no open series is a no-op.
func (w *Worker) EndSeries() {
	w.send(request{kind: reqEnd})
}

// Sync blocks until all previously issued requests have been processed
func (w *Worker) Sync() {
	done := make(chan struct{})
	w.send(request{kind: reqSync, done: done})
	<-done
}

func (w *Worker) send(r request) {
	select {
	case w.reqs <- r:
	case <-w.quit:
		if r.done != nil {
			close(r.done)
		}
	}
}

func (w *Worker) loop() {
	for {
		select {
		case r := <-w.reqs:
			w.handle(r)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) handle(r request) {
	switch r.kind {
	case reqPrepare:
		w.mu.Lock()
		w.series = &Series{Acq: r.acq}
		w.mu.Unlock()
	case reqAppend:
		frame, err := w.src.GetFrame()
		if err != nil {
			log.Println("camera: frame readout failed:", err)
			return
		}
		w.mu.Lock()
		if w.series != nil {
			w.series.Frames = append(w.series.Frames, frame)
		}
		w.mu.Unlock()
	case reqEnd:
		w.mu.Lock()
		s := w.series
		w.series = nil
		w.mu.Unlock()
		if s == nil {
			return
		}
		if w.WriteFITS && len(s.Frames) > 0 {
			if err := writeSeries(s); err != nil {
				log.Println("camera: writing series failed:", err)
			}
		}
	case reqSync:
		close(r.done)
	}
}

// SeriesOpen reports whether a series is currently accepting frames
func (w *Worker) SeriesOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.series != nil
}

// FramesInSeries returns the number of frames in the open series, or
// zero if none is open
func (w *Worker) FramesInSeries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.series == nil {
		return 0
	}
	return len(w.series.Frames)
}

// Sim is an in-memory frame source producing ramp images
type Sim struct {
	Width  int
	Height int

	mu      sync.Mutex
	counter int
}

// NewSim returns a Sim with the given frame geometry
func NewSim(width, height int) *Sim {
	return &Sim{Width: width, Height: height}
}

// GetFrame returns a synthetic frame; successive frames carry a
// different pedestal so stacks are distinguishable plane to plane
func (s *Sim) GetFrame() (Frame, error) {
	s.mu.Lock()
	s.counter++
	pedestal := uint16(s.counter % 256)
	s.mu.Unlock()
	pix := make([]uint16, s.Width*s.Height)
	for i := range pix {
		pix[i] = pedestal + uint16(i%s.Width)
	}
	return Frame{Width: s.Width, Height: s.Height, Pix: pix}, nil
}
