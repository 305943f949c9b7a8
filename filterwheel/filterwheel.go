// Package filterwheel speaks the telegram protocol used by the filter wheel
// and zoom servo controller.  Filters and zoom positions are addressed by
// name; the mapping from names to detent positions is part of the instrument
// configuration.
package filterwheel

import (
	"fmt"
	"math"
	"time"

	"github.com/openlsm/lightctl/comm"
)

// SettleTime is how long the wheel is given to come to rest after an
// acknowledged move.  The controller acks when the move begins, not when
// it ends.
const SettleTime = 50 * time.Millisecond

// Wheel talks to a filter wheel / zoom servo controller over a comm.Device.
// All setters block until the controller acknowledges.
type Wheel struct {
	dev *comm.Device

	// Filters maps filter names to detent positions on the wheel
	Filters map[string]byte

	// Zooms maps zoom designations ("1x", "2x", ...) to servo positions
	Zooms map[string]byte
}

// New returns a Wheel with the given position maps.  isSerial selects
// RS-232 framing instead of TCP.
func New(addr string, isSerial bool, filters, zooms map[string]byte) *Wheel {
	d := comm.NewDevice(addr, isSerial)
	d.TxTerm = telEnd
	d.RxTerm = telEnd
	return &Wheel{dev: d, Filters: filters, Zooms: zooms}
}

// Open connects to the controller.
func (w *Wheel) Open() error {
	return w.dev.Open()
}

// Close severs the connection to the controller.
func (w *Wheel) Close() error {
	return w.dev.Close()
}

// writeRegister sends a Write telegram and blocks until the controller
// responds, returning an error on a Nack or a malformed reply.
func (w *Wheel) writeRegister(register byte, data []byte) error {
	tele, err := Encode(Telegram{Type: "Write", Register: register, Data: data})
	if err != nil {
		return err
	}
	// SendRecv appends the Tx terminator; Encode already framed one
	resp, err := w.dev.SendRecv(tele[:len(tele)-1])
	if err != nil {
		return err
	}
	// SendRecv strips the terminator; Decode wants the full frame
	resp = append(resp, telEnd)
	dec, err := Decode(resp)
	if err != nil {
		return err
	}
	if dec.Type != "Ack" {
		return fmt.Errorf("filterwheel: controller replied %s to write of register %X", dec.Type, register)
	}
	time.Sleep(SettleTime)
	return nil
}

// SetFilter moves the wheel to the named filter, blocking until the
// controller acknowledges and the wheel has settled.
func (w *Wheel) SetFilter(name string) error {
	pos, ok := w.Filters[name]
	if !ok {
		return fmt.Errorf("filterwheel: filter %q not in wheel", name)
	}
	return w.writeRegister(regFilter, []byte{pos})
}

// SetZoom moves the zoom servo to the named position, blocking until the
// controller acknowledges.
func (w *Wheel) SetZoom(name string) error {
	pos, ok := w.Zooms[name]
	if !ok {
		return fmt.Errorf("filterwheel: zoom %q not available", name)
	}
	return w.writeRegister(regZoom, []byte{pos})
}

// SetIntensity commands the illumination intensity in percent, 0-100.
func (w *Wheel) SetIntensity(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("filterwheel: intensity %f out of range [0,100]", pct)
	}
	return w.writeRegister(regIntensity, []byte{byte(math.Round(pct))})
}
