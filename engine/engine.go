// Package engine contains the acquisition orchestration state machine.  It
// sequences shutters, lasers, waveform cycles, camera series and stage motion
// across independently clocked workers, and is the only component allowed to
// change the operating mode.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/shutter"
	"github.com/openlsm/lightctl/state"
)

// Operating modes.  Init is only ever observed before the first mode request;
// every imaging mode returns to Idle on completion or stop.
const (
	ModeInit        = "init"
	ModeIdle        = "idle"
	ModeLive        = "live"
	ModeRunSelected = "run_selected_acquisition"
	ModeRunList     = "run_acquisition_list"
	ModeAlignment   = "lightsheet_alignment_mode"
	ModeVisual      = "visual_mode"
	ModeScript      = "running_script"
)

var imagingModes = map[string]bool{
	ModeLive:        true,
	ModeRunSelected: true,
	ModeRunList:     true,
	ModeAlignment:   true,
	ModeVisual:      true,
}

// Progress describes how far a run has gotten.  One record is emitted after
// every captured plane.
type Progress struct {
	CurrentAcq        int `json:"currentAcq"`
	TotalAcqs         int `json:"totalAcqs"`
	CurrentImageInAcq int `json:"currentImageInAcq"`
	ImagesInAcq       int `json:"imagesInAcq"`
	TotalImageCount   int `json:"totalImageCount"`
	ImageCounter      int `json:"imageCounter"`
}

// Camera is the surface the engine needs from the camera worker.  Calls are
// fire-and-forget; failures are worker-internal.
type Camera interface {
	PrepareSeries(a acq.Acquisition)
	AppendFrame()
	EndSeries()
}

// Stage is the surface the engine needs from the motion worker.
type Stage interface {
	MoveRel(deltas map[string]float64, block bool) error
	MoveAbs(targets map[string]float64, block bool) error
	StopMotion()
}

// Waveforms is the per-exposure timing task lifecycle.
type Waveforms interface {
	SingleCycle() error
	PrepareSeries() error
	CycleInSeries() error
	CloseTasks() error
}

// Shutters opens the light path per a named pattern and closes it
// unconditionally.
type Shutters interface {
	Open(cfg shutter.Config) error
	Close() error
}

// Lasers enables one laser line at a time.
type Lasers interface {
	Enable(name string) error
	DisableAll() error
}

// Applier applies filter, zoom and intensity changes, blocking until the
// device acknowledges.
type Applier interface {
	SetFilter(name string) error
	SetZoom(name string) error
	SetIntensity(pct float64) error
}

// Hardware bundles the engine's collaborators.
type Hardware struct {
	Camera    Camera
	Stage     Stage
	Waveforms Waveforms
	Shutters  Shutters
	Lasers    Lasers
	Wheel     Applier
}

// Engine is the acquisition scheduler.  One goroutine at a time runs an
// imaging mode loop; mode requests and the stop flag are the only cross
// goroutine controls.
type Engine struct {
	store *state.Store
	hw    Hardware

	// PreviewInterval paces the live, alignment and visual loops.  The
	// default of one sweeptime per cycle comes from the waveform run
	// itself; this only matters with simulated hardware.
	PreviewInterval time.Duration

	mu   sync.Mutex
	mode string
	stop bool

	progress chan Progress
	finished chan string
}

// New returns an Engine in the init state.
func New(store *state.Store, hw Hardware) *Engine {
	e := &Engine{
		store:    store,
		hw:       hw,
		mode:     ModeInit,
		progress: make(chan Progress, 64),
		finished: make(chan string, 8),
	}
	store.Set("state", ModeInit)
	return e
}

// Mode returns the current operating mode.
func (e *Engine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Progress returns the channel progress records are emitted on.  Records are
// dropped, not blocked on, when no one is draining the channel.
func (e *Engine) Progress() <-chan Progress {
	return e.progress
}

// Finished returns a channel that receives the name of each mode as its loop
// exits and the engine returns to idle.
func (e *Engine) Finished() <-chan string {
	return e.finished
}

// SetMode requests an operating mode change.  Unrecognized modes are
// rejected.  Imaging modes are rejected while another imaging mode or a
// script is running; requesting idle sets the cooperative stop flag and the
// running loop winds down on its own.
func (e *Engine) SetMode(mode string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case mode == ModeIdle:
		if e.mode == ModeInit {
			e.mode = ModeIdle
			e.store.Set("state", ModeIdle)
			return nil
		}
		e.stop = true
		return nil
	case imagingModes[mode]:
		if e.mode != ModeIdle && e.mode != ModeInit {
			return fmt.Errorf("engine: cannot enter %s while %s is active", mode, e.mode)
		}
		e.stop = false
		e.mode = mode
		e.store.Set("state", mode)
		go e.runMode(mode)
		return nil
	default:
		return fmt.Errorf("engine: unrecognized mode %q", mode)
	}
}

// Stopped reports whether a cooperative stop has been requested.  Mode loops
// poll this once per plane.
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop
}

// runMode executes one imaging mode loop and returns the engine to idle.
// A panic in a mode loop is contained here; the engine still winds down to
// idle instead of taking the process with it.
func (e *Engine) runMode(mode string) {
	defer e.toIdle(mode)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: %s loop panicked: %v", mode, r)
		}
	}()
	switch mode {
	case ModeLive:
		e.live()
	case ModeRunSelected:
		e.runAcquisitions(e.selectedAsList())
	case ModeRunList:
		e.runAcquisitions(e.store.List())
	case ModeAlignment:
		e.alignment()
	case ModeVisual:
		e.visual()
	}
}

func (e *Engine) toIdle(from string) {
	e.mu.Lock()
	e.mode = ModeIdle
	e.stop = false
	e.mu.Unlock()
	e.store.Set("state", ModeIdle)
	select {
	case e.finished <- from:
	default:
	}
}

func (e *Engine) selectedAsList() acq.List {
	list := e.store.List()
	row := e.store.SelectedRow()
	if row < 0 || row >= len(list) {
		log.Printf("engine: selected row %d out of range, nothing to run", row)
		return nil
	}
	return acq.List{list[row]}
}

// runAcquisitions is the acquisition list loop.  Acquisitions execute
// strictly in list order, planes strictly sequentially within each.
func (e *Engine) runAcquisitions(list acq.List) {
	if len(list) == 0 {
		return
	}
	if list.HasRotation() {
		log.Println("engine: list contains rotation, no rotation-specific handling applied")
	}
	pr := Progress{
		TotalAcqs:       len(list),
		TotalImageCount: list.ImageCount(),
	}
	for i, a := range list {
		if e.Stopped() {
			break
		}
		pr.CurrentAcq = i + 1
		pr.ImagesInAcq = a.ImageCount()
		pr.CurrentImageInAcq = 0
		e.oneAcquisition(a, &pr)
	}
	if !e.Stopped() {
		if err := e.hw.Stage.MoveAbs(list.Startpoint(), true); err != nil {
			log.Println("engine: return to list start point:", err)
		}
	}
}

// oneAcquisition runs a single stack.  Shutters are closed and the image
// series ended on every exit path, stopped or not.
func (e *Engine) oneAcquisition(a acq.Acquisition, pr *Progress) {
	if err := e.hw.Stage.MoveAbs(a.Startpoint(), true); err != nil {
		log.Println("engine: move to start point:", err)
	}
	e.applySettings(a)

	e.hw.Camera.PrepareSeries(a)
	if err := e.hw.Waveforms.PrepareSeries(); err != nil {
		log.Println("engine: prepare waveform series:", err)
		e.hw.Camera.EndSeries()
		return
	}
	defer func() {
		if err := e.hw.Waveforms.CloseTasks(); err != nil {
			log.Println("engine: close waveform tasks:", err)
		}
	}()

	if err := WriteMetadata(e.store, a); err != nil {
		log.Println("engine: write metadata:", err)
	}

	e.openShutter(shutter.Config(a.Shutter))
	delta := a.DeltaZ()
	stopped := false
	for k := 0; k < a.ImageCount(); k++ {
		if e.Stopped() {
			e.hw.Camera.EndSeries()
			stopped = true
			break
		}
		if err := e.hw.Waveforms.CycleInSeries(); err != nil {
			log.Println("engine: waveform cycle:", err)
		}
		e.hw.Camera.AppendFrame()
		if err := e.hw.Stage.MoveRel(delta, true); err != nil {
			log.Println("engine: z step:", err)
		}
		pr.CurrentImageInAcq = k + 1
		pr.ImageCounter++
		e.emit(*pr)
	}
	e.closeShutter()
	if !stopped {
		if err := e.hw.Stage.MoveAbs(a.Startpoint(), true); err != nil {
			log.Println("engine: return to start point:", err)
		}
	}
	e.hw.Camera.EndSeries()
}

// applySettings pushes an acquisition's filter, zoom, laser and intensity to
// the hardware, blocking on each, and mirrors the applied values into the
// shared state.  The shutter pattern is only recorded here; shutters open
// later, immediately before the plane loop.
func (e *Engine) applySettings(a acq.Acquisition) {
	e.store.Set("shutterconfig", a.Shutter)
	if err := e.hw.Wheel.SetFilter(a.Filter); err != nil {
		log.Println("engine: set filter:", err)
	} else {
		e.store.Set("filter", a.Filter)
	}
	if err := e.hw.Wheel.SetZoom(a.Zoom); err != nil {
		log.Println("engine: set zoom:", err)
	} else {
		e.store.Set("zoom", a.Zoom)
	}
	if err := e.hw.Lasers.Enable(a.Laser); err != nil {
		log.Println("engine: enable laser:", err)
	} else {
		e.store.Set("laser", a.Laser)
	}
	if err := e.hw.Wheel.SetIntensity(a.Intensity); err != nil {
		log.Println("engine: set intensity:", err)
	} else {
		e.store.Set("intensity", a.Intensity)
	}
}

func (e *Engine) openShutter(cfg shutter.Config) {
	if err := e.hw.Shutters.Open(cfg); err != nil {
		log.Println("engine: open shutter:", err)
		return
	}
	e.store.Set("shutterstate", true)
}

func (e *Engine) closeShutter() {
	if err := e.hw.Shutters.Close(); err != nil {
		log.Println("engine: close shutter:", err)
	}
	e.store.Set("shutterstate", false)
}

// pacer returns a limiter for the preview loops.  A zero PreviewInterval
// falls back to the current sweeptime so simulated hardware does not spin.
func (e *Engine) pacer() *rate.Limiter {
	iv := e.PreviewInterval
	if iv <= 0 {
		iv = time.Duration(e.store.Float("sweeptime") * float64(time.Second))
	}
	if iv <= 0 {
		iv = 10 * time.Millisecond
	}
	return rate.NewLimiter(rate.Every(iv), 1)
}

// live is the continuous preview loop: one single-shot waveform cycle per
// iteration with the configured shutter pattern.  The camera free-runs on
// the hardware trigger channel during preview.
func (e *Engine) live() {
	lim := e.pacer()
	e.openShutter(shutter.Config(e.store.Str("shutterconfig")))
	defer e.closeShutter()
	for !e.Stopped() {
		if err := e.hw.Waveforms.SingleCycle(); err != nil {
			log.Println("engine: live cycle:", err)
			return
		}
		lim.Wait(context.Background())
	}
}

// alignment alternates single-shot cycles between the left and right light
// sheets until stopped.  No z motion, no metadata, no list.
func (e *Engine) alignment() {
	lim := e.pacer()
	defer e.closeShutter()
	for !e.Stopped() {
		for _, side := range []shutter.Config{shutter.Left, shutter.Right} {
			e.openShutter(side)
			if err := e.hw.Waveforms.SingleCycle(); err != nil {
				log.Println("engine: alignment cycle:", err)
				return
			}
			e.closeShutter()
			if e.Stopped() {
				return
			}
		}
		lim.Wait(context.Background())
	}
}

// visual is a no-lightsheet preview: both ETL amplitudes are zeroed for the
// duration of the loop and restored exactly on exit, stopped or not.
func (e *Engine) visual() {
	savedL := e.store.Float("etl_l_amplitude")
	savedR := e.store.Float("etl_r_amplitude")
	e.store.Set("etl_l_amplitude", 0.0)
	e.store.Set("etl_r_amplitude", 0.0)
	defer func() {
		e.store.Set("etl_l_amplitude", savedL)
		e.store.Set("etl_r_amplitude", savedR)
	}()

	if err := e.hw.Waveforms.PrepareSeries(); err != nil {
		log.Println("engine: prepare visual series:", err)
		return
	}
	defer func() {
		if err := e.hw.Waveforms.CloseTasks(); err != nil {
			log.Println("engine: close waveform tasks:", err)
		}
	}()

	lim := e.pacer()
	e.openShutter(shutter.Config(e.store.Str("shutterconfig")))
	defer e.closeShutter()
	for !e.Stopped() {
		if err := e.hw.Waveforms.CycleInSeries(); err != nil {
			log.Println("engine: visual cycle:", err)
			return
		}
		lim.Wait(context.Background())
	}
}

// Snap captures a single image with the current settings into a one plane
// series.  Only legal from idle.
func (e *Engine) Snap(folder, filename string) error {
	e.mu.Lock()
	if e.mode != ModeIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot snap while %s is active", e.mode)
	}
	e.mu.Unlock()
	return e.snap(folder, filename)
}

// snap captures one frame with the current settings, without the mode check.
func (e *Engine) snap(folder, filename string) error {
	a := acq.Acquisition{
		Folder:    folder,
		Filename:  filename,
		Filter:    e.store.Str("filter"),
		Zoom:      e.store.Str("zoom"),
		Laser:     e.store.Str("laser"),
		Intensity: e.store.Float("intensity"),
		Shutter:   e.store.Str("shutterconfig"),
		Planes:    1,
	}
	e.hw.Camera.PrepareSeries(a)
	e.openShutter(shutter.Config(a.Shutter))
	err := e.hw.Waveforms.SingleCycle()
	if err != nil {
		log.Println("engine: snap cycle:", err)
	} else {
		e.hw.Camera.AppendFrame()
	}
	e.closeShutter()
	e.hw.Camera.EndSeries()
	return err
}

func (e *Engine) emit(pr Progress) {
	select {
	case e.progress <- pr:
	default:
	}
}
