package engine_test

import (
	"testing"

	"github.com/openlsm/lightctl/engine"
)

func TestScriptSetsParametersAndMoves(t *testing.T) {
	r := newRig()
	r.eng.SetMode(engine.ModeIdle)

	src := `# pre-position and dim the laser
set intensity 12.5
set filter 561/40
move_rel z 5.0
move_abs x 100
`
	if err := r.eng.RunScript(src); err != nil {
		t.Fatal("could not start script:", err)
	}
	if m := r.waitFinished(t); m != engine.ModeScript {
		t.Errorf("finished signal carried %s, want %s", m, engine.ModeScript)
	}
	if m := r.eng.Mode(); m != engine.ModeIdle {
		t.Errorf("ended in %s, want idle", m)
	}

	if got := r.store.Float("intensity"); got != 12.5 {
		t.Errorf("intensity = %v, want 12.5", got)
	}
	if got := r.store.Str("filter"); got != "561/40" {
		t.Errorf("filter = %q, want 561/40", got)
	}
	r.stage.mu.Lock()
	defer r.stage.mu.Unlock()
	if len(r.stage.rels) != 1 || r.stage.rels[0]["z"] != 5.0 {
		t.Errorf("relative moves %v, want one z move of 5", r.stage.rels)
	}
	if len(r.stage.abss) != 1 || r.stage.abss[0]["x"] != 100.0 {
		t.Errorf("absolute moves %v, want one x move to 100", r.stage.abss)
	}
}

func TestScriptFailureReturnsToIdle(t *testing.T) {
	r := newRig()
	r.eng.SetMode(engine.ModeIdle)

	src := `set intensity 10
engage warp drive
set intensity 99
`
	if err := r.eng.RunScript(src); err != nil {
		t.Fatal("could not start script:", err)
	}
	r.waitFinished(t)

	if m := r.eng.Mode(); m != engine.ModeIdle {
		t.Errorf("ended in %s, want idle", m)
	}
	// the bad line aborts the script; lines after it never run
	if got := r.store.Float("intensity"); got != 10 {
		t.Errorf("intensity = %v, want 10", got)
	}
}

func TestScriptSnapCapturesOneFrame(t *testing.T) {
	r := newRig()
	r.eng.SetMode(engine.ModeIdle)

	dir := t.TempDir()
	if err := r.eng.RunScript("snap " + dir + " snap0.raw"); err != nil {
		t.Fatal(err)
	}
	r.waitFinished(t)

	prep, appends, ends := r.cam.counts()
	if prep != 1 || appends != 1 || ends != 1 {
		t.Errorf("camera saw prepare=%d append=%d end=%d, want 1,1,1", prep, appends, ends)
	}
	if r.shutters.isOpen() {
		t.Error("shutters left open after snap")
	}
}

func TestScriptRejectedWhileBusy(t *testing.T) {
	r := newRig()
	if err := r.eng.SetMode(engine.ModeLive); err != nil {
		t.Fatal(err)
	}
	if err := r.eng.RunScript("set intensity 5"); err == nil {
		t.Error("script accepted while live is active")
	}
	r.eng.SetMode(engine.ModeIdle)
	r.waitFinished(t)
}
