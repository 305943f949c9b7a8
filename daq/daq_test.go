package daq

import (
	"testing"
	"time"
)

func TestTaskLifecycleOrdering(t *testing.T) {
	d := NewSim()
	task, err := d.NewTask("etl_l", []string{"etl_l"}, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if err := task.Start(); err == nil {
		t.Error("start before write accepted")
	}
	if err := task.Write([]float64{0, 1, 0}); err != nil {
		t.Fatal("write failed:", err)
	}
	if err := task.Start(); err != nil {
		t.Fatal("start failed:", err)
	}
	if err := task.Write([]float64{1}); err == nil {
		t.Error("write accepted while started")
	}
	if err := task.WaitUntilDone(time.Second); err != nil {
		t.Fatal("wait failed:", err)
	}
	if err := task.Stop(); err != nil {
		t.Fatal("stop failed:", err)
	}
	// a stopped task restarts without a rewrite
	if err := task.Start(); err != nil {
		t.Fatal("restart failed:", err)
	}
	if err := task.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := task.Close(); err != nil {
		t.Fatal("close failed:", err)
	}
	if err := task.Close(); err != ErrClosed {
		t.Errorf("second close gave %v, want ErrClosed", err)
	}
	if err := task.Start(); err != ErrClosed {
		t.Errorf("start after close gave %v, want ErrClosed", err)
	}
}

func TestOpenTaskAccounting(t *testing.T) {
	d := NewSim()
	a, _ := d.NewTask("a", []string{"a"}, 1000)
	b, _ := d.NewTask("b", []string{"b"}, 1000)
	if got := d.OpenTasks(); got != 2 {
		t.Errorf("open tasks = %d, want 2", got)
	}
	a.Close()
	b.Close()
	if got := d.OpenTasks(); got != 0 {
		t.Errorf("open tasks = %d after closing, want 0", got)
	}
}

func TestWaitTimesOut(t *testing.T) {
	d := NewSim()
	d.CycleTime = time.Second
	task, _ := d.NewTask("slow", []string{"slow"}, 1000)
	task.Write([]float64{0})
	task.Start()
	if err := task.WaitUntilDone(time.Millisecond); err == nil {
		t.Error("wait shorter than the cycle did not error")
	}
}

func TestRejectsBadSampleRate(t *testing.T) {
	d := NewSim()
	if _, err := d.NewTask("x", []string{"x"}, 0); err == nil {
		t.Error("zero sample rate accepted")
	}
}

func TestSimLine(t *testing.T) {
	l := &SimLine{}
	l.Set(true)
	if !l.Level() {
		t.Error("line not high after Set(true)")
	}
	l.Set(false)
	if l.Level() {
		t.Error("line not low after Set(false)")
	}
	if got := l.Sets(); got != 2 {
		t.Errorf("sets = %d, want 2", got)
	}
}
