package engine_test

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/engine"
	"github.com/openlsm/lightctl/shutter"
	"github.com/openlsm/lightctl/state"
)

// the fakes record calls so tests can assert on ordering and counts

type fakeCamera struct {
	mu       sync.Mutex
	prepared []acq.Acquisition
	appends  int
	ends     int
	onAppend func(total int)
}

func (c *fakeCamera) PrepareSeries(a acq.Acquisition) {
	c.mu.Lock()
	c.prepared = append(c.prepared, a)
	c.mu.Unlock()
}

func (c *fakeCamera) AppendFrame() {
	c.mu.Lock()
	c.appends++
	n := c.appends
	hook := c.onAppend
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (c *fakeCamera) EndSeries() {
	c.mu.Lock()
	c.ends++
	c.mu.Unlock()
}

func (c *fakeCamera) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prepared), c.appends, c.ends
}

type fakeStage struct {
	mu   sync.Mutex
	rels []map[string]float64
	abss []map[string]float64
}

func (s *fakeStage) MoveRel(d map[string]float64, block bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, d)
	return nil
}

func (s *fakeStage) MoveAbs(t map[string]float64, block bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abss = append(s.abss, t)
	return nil
}

func (s *fakeStage) StopMotion() {}

type fakeWaves struct {
	mu       sync.Mutex
	singles  int
	prepares int
	cycles   int
	closes   int
	onCycle  func(n int)
}

func (w *fakeWaves) SingleCycle() error {
	w.mu.Lock()
	w.singles++
	w.mu.Unlock()
	return nil
}

func (w *fakeWaves) PrepareSeries() error {
	w.mu.Lock()
	w.prepares++
	w.mu.Unlock()
	return nil
}

func (w *fakeWaves) CycleInSeries() error {
	w.mu.Lock()
	w.cycles++
	n := w.cycles
	hook := w.onCycle
	w.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (w *fakeWaves) CloseTasks() error {
	w.mu.Lock()
	w.closes++
	w.mu.Unlock()
	return nil
}

type fakeShutters struct {
	mu     sync.Mutex
	open   bool
	opens  []shutter.Config
	closes int
}

func (s *fakeShutters) Open(cfg shutter.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.opens = append(s.opens, cfg)
	return nil
}

func (s *fakeShutters) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closes++
	return nil
}

func (s *fakeShutters) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

type fakeLasers struct {
	mu      sync.Mutex
	active  string
	enables []string
}

func (l *fakeLasers) Enable(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = name
	l.enables = append(l.enables, name)
	return nil
}

func (l *fakeLasers) DisableAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = ""
	return nil
}

type fakeWheel struct {
	mu        sync.Mutex
	filter    string
	zoom      string
	intensity float64
}

func (w *fakeWheel) SetFilter(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filter = name
	return nil
}

func (w *fakeWheel) SetZoom(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.zoom = name
	return nil
}

func (w *fakeWheel) SetIntensity(pct float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intensity = pct
	return nil
}

type rig struct {
	store    *state.Store
	eng      *engine.Engine
	cam      *fakeCamera
	stage    *fakeStage
	waves    *fakeWaves
	shutters *fakeShutters
	lasers   *fakeLasers
	wheel    *fakeWheel
}

func newRig() *rig {
	r := &rig{
		store:    state.New(),
		cam:      &fakeCamera{},
		stage:    &fakeStage{},
		waves:    &fakeWaves{},
		shutters: &fakeShutters{},
		lasers:   &fakeLasers{},
		wheel:    &fakeWheel{},
	}
	r.eng = engine.New(r.store, engine.Hardware{
		Camera:    r.cam,
		Stage:     r.stage,
		Waveforms: r.waves,
		Shutters:  r.shutters,
		Lasers:    r.lasers,
		Wheel:     r.wheel,
	})
	r.eng.PreviewInterval = time.Millisecond
	return r
}

func (r *rig) waitFinished(t *testing.T) string {
	t.Helper()
	select {
	case m := <-r.eng.Finished():
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("mode loop did not finish in time")
		return ""
	}
}

func (r *rig) drainProgress() []engine.Progress {
	var out []engine.Progress
	for {
		select {
		case p := <-r.eng.Progress():
			out = append(out, p)
		default:
			return out
		}
	}
}

func stack(folder, name string, planes int) acq.Acquisition {
	return acq.Acquisition{
		Folder:   folder,
		Filename: name + ".raw",
		Filter:   "525/50",
		Zoom:     "1x",
		Laser:    "488 nm",
		Shutter:  "Left",
		ZStep:    2.0,
		Planes:   planes,
	}
}

func TestListRunsToCompletion(t *testing.T) {
	r := newRig()
	dir := t.TempDir()
	r.store.SetList(acq.List{stack(dir, "stack0", 3)})

	if err := r.eng.SetMode(engine.ModeRunList); err != nil {
		t.Fatal("could not enter run_acquisition_list:", err)
	}
	if m := r.waitFinished(t); m != engine.ModeRunList {
		t.Errorf("finished signal carried %s, want %s", m, engine.ModeRunList)
	}
	if m := r.eng.Mode(); m != engine.ModeIdle {
		t.Errorf("engine ended in %s, want idle", m)
	}

	prs := r.drainProgress()
	if len(prs) != 3 {
		t.Fatalf("got %d progress records, want 3", len(prs))
	}
	for i, p := range prs {
		if p.ImageCounter != i+1 {
			t.Errorf("record %d has image counter %d, want %d", i, p.ImageCounter, i+1)
		}
		if p.TotalImageCount != 3 || p.TotalAcqs != 1 || p.CurrentAcq != 1 {
			t.Errorf("record %d has wrong totals: %+v", i, p)
		}
	}

	prep, appends, ends := r.cam.counts()
	if prep != 1 || appends != 3 || ends == 0 {
		t.Errorf("camera saw prepare=%d append=%d end=%d", prep, appends, ends)
	}
	if r.waves.prepares != 1 || r.waves.cycles != 3 || r.waves.closes != 1 {
		t.Errorf("waveforms saw prepare=%d cycle=%d close=%d", r.waves.prepares, r.waves.cycles, r.waves.closes)
	}
	if r.shutters.isOpen() {
		t.Error("shutters left open after run")
	}
	if r.lasers.active != "488 nm" {
		t.Errorf("laser %q enabled, want 488 nm", r.lasers.active)
	}
}

func TestMetadataWrittenBeforeFirstPlane(t *testing.T) {
	r := newRig()
	dir := t.TempDir()
	a := stack(dir, "stack0", 3)
	r.store.SetList(acq.List{a})

	sawIt := make(chan bool, 8)
	r.waves.onCycle = func(n int) {
		if n == 1 {
			_, err := os.Stat(engine.MetadataPath(a))
			sawIt <- err == nil
		}
	}

	if err := r.eng.SetMode(engine.ModeRunList); err != nil {
		t.Fatal(err)
	}
	r.waitFinished(t)

	if ok := <-sawIt; !ok {
		t.Error("metadata file missing at first waveform cycle")
	}
	b, err := os.ReadFile(engine.MetadataPath(a))
	if err != nil {
		t.Fatal("could not read metadata:", err)
	}
	s := string(b)
	for _, want := range []string{"[z_stepsize] 2.0", "[Filter] 525/50", "[Laser] 488 nm", "[z_planes] 3", "[POSITION]"} {
		if !strings.Contains(s, want) {
			t.Errorf("metadata missing %q", want)
		}
	}
}

func TestStopFreezesImageCounter(t *testing.T) {
	r := newRig()
	dir := t.TempDir()
	r.store.SetList(acq.List{stack(dir, "a", 2), stack(dir, "b", 3)})

	// stop after the first plane of the second acquisition
	r.cam.onAppend = func(total int) {
		if total == 3 {
			r.eng.SetMode(engine.ModeIdle)
		}
	}

	if err := r.eng.SetMode(engine.ModeRunList); err != nil {
		t.Fatal(err)
	}
	r.waitFinished(t)

	prs := r.drainProgress()
	if len(prs) == 0 {
		t.Fatal("no progress records emitted")
	}
	last := prs[len(prs)-1]
	if last.ImageCounter != 3 {
		t.Errorf("image counter frozen at %d, want 3", last.ImageCounter)
	}
	if r.shutters.isOpen() {
		t.Error("shutters left open after stop")
	}
	if m := r.eng.Mode(); m != engine.ModeIdle {
		t.Errorf("engine ended in %s, want idle", m)
	}
	_, _, ends := r.cam.counts()
	if ends == 0 {
		t.Error("image series never ended after stop")
	}
	if r.waves.closes != r.waves.prepares {
		t.Errorf("waveform tasks leaked: %d prepares, %d closes", r.waves.prepares, r.waves.closes)
	}
}

func TestVisualModeRestoresETLAmplitudes(t *testing.T) {
	r := newRig()
	r.store.Set("etl_l_amplitude", 1.1)
	r.store.Set("etl_r_amplitude", 2.2)

	zeroed := make(chan bool, 8)
	r.waves.onCycle = func(n int) {
		if n == 1 {
			zeroed <- r.store.Float("etl_l_amplitude") == 0 && r.store.Float("etl_r_amplitude") == 0
		}
	}

	if err := r.eng.SetMode(engine.ModeVisual); err != nil {
		t.Fatal(err)
	}
	if ok := <-zeroed; !ok {
		t.Error("ETL amplitudes not zeroed during visual mode")
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)

	if got := r.store.Float("etl_l_amplitude"); got != 1.1 {
		t.Errorf("etl_l_amplitude restored to %v, want 1.1", got)
	}
	if got := r.store.Float("etl_r_amplitude"); got != 2.2 {
		t.Errorf("etl_r_amplitude restored to %v, want 2.2", got)
	}
}

func TestModeLoopPanicContained(t *testing.T) {
	r := newRig()
	r.store.Set("etl_l_amplitude", 1.1)
	r.store.Set("etl_r_amplitude", 2.2)
	r.waves.onCycle = func(n int) {
		panic("waveform device fault")
	}

	if err := r.eng.SetMode(engine.ModeVisual); err != nil {
		t.Fatal(err)
	}
	if got := r.waitFinished(t); got != engine.ModeVisual {
		t.Errorf("finished carried %q, want %q", got, engine.ModeVisual)
	}
	if got := r.eng.Mode(); got != engine.ModeIdle {
		t.Errorf("mode %q after panic, want idle", got)
	}
	// the unwinding still runs the restore and task close defers
	if got := r.store.Float("etl_l_amplitude"); got != 1.1 {
		t.Errorf("etl_l_amplitude %v after panic, want 1.1 restored", got)
	}
	r.waves.mu.Lock()
	prepares, closes := r.waves.prepares, r.waves.closes
	r.waves.mu.Unlock()
	if closes != prepares {
		t.Errorf("waveform closes %d != prepares %d after panic", closes, prepares)
	}

	// the engine is still usable
	r.waves.onCycle = nil
	if err := r.eng.SetMode(engine.ModeLive); err != nil {
		t.Error("engine rejected a new mode after a contained panic:", err)
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)
}

func TestVisualModeRestoresWhenStoppedImmediately(t *testing.T) {
	r := newRig()
	r.store.Set("etl_l_amplitude", 1.5)
	r.store.Set("etl_r_amplitude", 2.5)

	if err := r.eng.SetMode(engine.ModeVisual); err != nil {
		t.Fatal(err)
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)

	if got := r.store.Float("etl_l_amplitude"); got != 1.5 {
		t.Errorf("etl_l_amplitude restored to %v, want 1.5", got)
	}
	if got := r.store.Float("etl_r_amplitude"); got != 2.5 {
		t.Errorf("etl_r_amplitude restored to %v, want 2.5", got)
	}
}

func TestAlignmentModeAlternatesSheets(t *testing.T) {
	r := newRig()

	done := make(chan struct{})
	go func() {
		for {
			r.waves.mu.Lock()
			n := r.waves.singles
			r.waves.mu.Unlock()
			if n >= 4 {
				close(done)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := r.eng.SetMode(engine.ModeAlignment); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("alignment mode never ran four cycles")
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)

	r.shutters.mu.Lock()
	opens := append([]shutter.Config{}, r.shutters.opens...)
	r.shutters.mu.Unlock()
	if len(opens) < 4 {
		t.Fatalf("only %d shutter opens recorded", len(opens))
	}
	for i := 0; i+1 < 4; i += 2 {
		if opens[i] != shutter.Left || opens[i+1] != shutter.Right {
			t.Errorf("opens %d,%d were %s,%s, want Left,Right", i, i+1, opens[i], opens[i+1])
		}
	}
	if r.shutters.isOpen() {
		t.Error("shutters left open after alignment")
	}
}

func TestModeRequests(t *testing.T) {
	r := newRig()
	if err := r.eng.SetMode("warp_speed"); err == nil {
		t.Error("unrecognized mode accepted")
	}
	if err := r.eng.SetMode(engine.ModeLive); err != nil {
		t.Fatal("could not enter live:", err)
	}
	if err := r.eng.SetMode(engine.ModeVisual); err == nil {
		t.Error("imaging mode accepted while live is active")
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)
	if m := r.eng.Mode(); m != engine.ModeIdle {
		t.Errorf("ended in %s, want idle", m)
	}
}

func TestRunSelectedRunsOneRow(t *testing.T) {
	r := newRig()
	dir := t.TempDir()
	r.store.SetList(acq.List{stack(dir, "a", 2), stack(dir, "b", 3)})
	r.store.SetSelectedRow(1)

	if err := r.eng.SetMode(engine.ModeRunSelected); err != nil {
		t.Fatal(err)
	}
	r.waitFinished(t)

	prs := r.drainProgress()
	if len(prs) != 3 {
		t.Fatalf("got %d progress records, want 3 for the selected row", len(prs))
	}
	if prs[len(prs)-1].TotalAcqs != 1 {
		t.Errorf("selected-row run reported %d acquisitions, want 1", prs[len(prs)-1].TotalAcqs)
	}
}
