package motion_test

import (
	"strings"
	"testing"
	"time"

	"github.com/openlsm/lightctl/motion"
	"github.com/openlsm/lightctl/state"
)

var axes = []string{"x", "y", "z", "theta", "f"}

func TestBlockingMoveCompletesBeforeReturn(t *testing.T) {
	ctl := motion.NewMockController()
	w := motion.NewWorker(ctl, axes, nil)
	w.Start()
	defer w.Shutdown()

	if err := w.MoveAbs(map[string]float64{"z": 50}, true); err != nil {
		t.Fatal(err)
	}
	// after a blocking move, the position must already be reached
	if got := w.Positions()["z"]; got != 50 {
		t.Errorf("z = %v immediately after blocking move, want 50", got)
	}
	if err := w.MoveRel(map[string]float64{"z": -10}, true); err != nil {
		t.Fatal(err)
	}
	if got := w.Positions()["z"]; got != 40 {
		t.Errorf("z = %v after relative move, want 40", got)
	}
}

func TestRequestsProcessInIssueOrder(t *testing.T) {
	ctl := motion.NewMockController()
	w := motion.NewWorker(ctl, axes, nil)
	w.Start()
	defer w.Shutdown()

	// queue fire-and-forget moves, then block on a final one; the final
	// ack implies everything queued before it ran
	for i := 1; i <= 5; i++ {
		w.MoveRel(map[string]float64{"x": 1}, false)
	}
	if err := w.MoveRel(map[string]float64{"x": 1}, true); err != nil {
		t.Fatal(err)
	}
	if got := w.Positions()["x"]; got != 6 {
		t.Errorf("x = %v after six unit moves, want 6", got)
	}
}

func TestZeroing(t *testing.T) {
	ctl := motion.NewMockController()
	w := motion.NewWorker(ctl, axes, nil)
	w.Start()
	defer w.Shutdown()

	w.MoveAbs(map[string]float64{"z": 25}, true)
	w.ZeroAxes([]string{"z"})
	// zeroed frame: current position reads zero
	w.MoveRel(map[string]float64{"z": 0}, true) // sync
	if got := w.Positions()["z"]; got != 0 {
		t.Errorf("z = %v after zeroing, want 0", got)
	}
	// absolute targets are interpreted in the zeroed frame
	w.MoveAbs(map[string]float64{"z": 10}, true)
	if got, _ := ctl.GetPos("z"); got != 35 {
		t.Errorf("hardware z = %v, want 35", got)
	}
	w.UnzeroAxes([]string{"z"})
	w.MoveRel(map[string]float64{"z": 0}, true)
	if got := w.Positions()["z"]; got != 35 {
		t.Errorf("z = %v after unzeroing, want hardware 35", got)
	}
}

func TestBlockingAckTimeout(t *testing.T) {
	ctl := motion.NewMockController()
	ctl.MoveDelay = 200 * time.Millisecond
	w := motion.NewWorker(ctl, axes, nil)
	w.AckTimeout = 10 * time.Millisecond
	w.Start()
	defer w.Shutdown()

	err := w.MoveAbs(map[string]float64{"z": 5}, true)
	if err == nil {
		t.Fatal("blocking move returned before the slow device acknowledged")
	}
	if !strings.Contains(err.Error(), "no acknowledgment") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPositionsMirroredIntoState(t *testing.T) {
	store := state.New()
	ctl := motion.NewMockController()
	w := motion.NewWorker(ctl, axes, store)
	w.Start()
	defer w.Shutdown()

	w.MoveAbs(map[string]float64{"y": 7}, true)
	if got := store.Positions()["y"]; got != 7 {
		t.Errorf("state telemetry y = %v, want 7", got)
	}
}

func TestShutdownIdempotentAndSafeUnstarted(t *testing.T) {
	w := motion.NewWorker(motion.NewMockController(), axes, nil)
	// never started: must not hang or panic
	w.Shutdown()

	w2 := motion.NewWorker(motion.NewMockController(), axes, nil)
	w2.Start()
	w2.Shutdown()
	w2.Shutdown()

	// requests after shutdown err rather than hang
	if err := w2.MoveAbs(map[string]float64{"z": 1}, true); err == nil {
		t.Error("blocking move after shutdown returned nil")
	}
}

func TestStopMotionBypassesQueue(t *testing.T) {
	ctl := motion.NewMockController()
	w := motion.NewWorker(ctl, axes, nil)
	w.Start()
	defer w.Shutdown()

	w.StopMotion()
	// the next move is consumed by the abort and does not change position
	w.MoveAbs(map[string]float64{"z": 99}, true)
	if got, _ := ctl.GetPos("z"); got != 0 {
		t.Errorf("z = %v after aborted move, want 0", got)
	}
}
