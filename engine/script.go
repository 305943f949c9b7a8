package engine

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// The script surface is deliberately narrow: a fixed set of verbs over the
// engine's own bindings, not arbitrary code.
//
//   set <key> <value>          write a shared state parameter
//   move_rel <axis> <delta>    blocking relative move
//   move_abs <axis> <target>   blocking absolute move
//   wait <seconds>             sleep
//   snap <folder> <filename>   capture one image
//
// Lines starting with # and blank lines are ignored.

// RunScript switches to running_script and executes src line by line in a
// new goroutine.  Any failure is logged and stops the script; nothing
// propagates and the engine always returns to idle.  Only legal from idle.
func (e *Engine) RunScript(src string) error {
	e.mu.Lock()
	if e.mode != ModeIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot run script while %s is active", e.mode)
	}
	e.stop = false
	e.mode = ModeScript
	e.mu.Unlock()
	e.store.Set("state", ModeScript)

	go func() {
		defer e.toIdle(ModeScript)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("engine: script panicked: %v", r)
			}
		}()
		if err := e.script(src); err != nil {
			log.Println("engine: script aborted:", err)
		}
	}()
	return nil
}

func (e *Engine) script(src string) error {
	for n, line := range strings.Split(src, "\n") {
		if e.Stopped() {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if err := e.instruction(fields); err != nil {
			return fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	return nil
}

func (e *Engine) instruction(fields []string) error {
	verb, args := fields[0], fields[1:]
	switch verb {
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("set wants <key> <value>, got %d args", len(args))
		}
		if !e.setParam(args[0], args[1]) {
			return fmt.Errorf("unrecognized parameter %q", args[0])
		}
		return nil
	case "move_rel", "move_abs":
		if len(args) != 2 {
			return fmt.Errorf("%s wants <axis> <value>, got %d args", verb, len(args))
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("bad %s value %q", verb, args[1])
		}
		m := map[string]float64{args[0]: v}
		if verb == "move_rel" {
			return e.hw.Stage.MoveRel(m, true)
		}
		return e.hw.Stage.MoveAbs(m, true)
	case "wait":
		if len(args) != 1 {
			return fmt.Errorf("wait wants <seconds>, got %d args", len(args))
		}
		sec, err := strconv.ParseFloat(args[0], 64)
		if err != nil || sec < 0 {
			return fmt.Errorf("bad wait duration %q", args[0])
		}
		time.Sleep(time.Duration(sec * float64(time.Second)))
		return nil
	case "snap":
		if len(args) != 2 {
			return fmt.Errorf("snap wants <folder> <filename>, got %d args", len(args))
		}
		return e.snap(args[0], args[1])
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

// setParam coerces a script literal to the parameter's kind and writes it.
func (e *Engine) setParam(key, raw string) bool {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if e.store.Set(key, f) {
			return true
		}
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		if e.store.Set(key, b) {
			return true
		}
	}
	return e.store.Set(key, raw)
}
