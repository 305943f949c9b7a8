// Package comm provides terminator-framed serial and TCP transport to
// lab hardware, with retrying connection establishment.
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a transfer is attempted before Open
	ErrNotConnected = errors.New("comm: not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is
	// missing from a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

// Device is a terminator-framed connection to a remote instrument over
// RS232 or TCP.  It is concurrent safe; transfers are serialized on an
// internal lock so requests reach the device in issue order.
type Device struct {
	// Addr is the network address, or the serial port path for RS232
	Addr string

	// IsSerial selects RS232 (true) or TCP (false)
	IsSerial bool

	// Baud is the serial baud rate; zero means 115200
	Baud int

	// TxTerm and RxTerm are the transmit/receive terminator bytes; both
	// default to carriage return
	TxTerm byte
	RxTerm byte

	mu   sync.Mutex
	conn io.ReadWriteCloser
}

// NewDevice returns a Device with carriage-return terminators
func NewDevice(addr string, isSerial bool) *Device {
	return &Device{Addr: addr, IsSerial: isSerial, TxTerm: '\r', RxTerm: '\r'}
}

// Open establishes the connection.  Connection-refused errors are
// retried with exponential backoff; some instruments do not tolerate
// being connection thrashed.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	wasTimeout := false
	op := func() error {
		err := d.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("comm: connection timeout to %s", d.Addr)
	}
	return err
}

func (d *Device) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if d.IsSerial {
		baud := d.Baud
		if baud == 0 {
			baud = 115200
		}
		conn, err = serial.OpenPort(&serial.Config{
			Name:        d.Addr,
			Baud:        baud,
			ReadTimeout: 3 * time.Second})
	} else {
		conn, err = TCPSetup(d.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

// Close tears the connection down
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	if err == nil {
		d.conn = nil
	}
	return err
}

// Send writes b to the remote with the Tx terminator appended
func (d *Device) Send(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(b)
}

func (d *Device) send(b []byte) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	b = append(b, d.TxTerm)
	_, err := d.conn.Write(b)
	return err
}

// Recv reads one response from the remote, stripping the Rx terminator
func (d *Device) Recv() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recv()
}

func (d *Device) recv() ([]byte, error) {
	if d.conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := bufio.NewReader(d.conn).ReadBytes(d.RxTerm)
	if err != nil {
		return nil, err
	}
	if bytes.HasSuffix(buf, []byte{d.RxTerm}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends b and reads the response, holding the lock across the
// round trip so concurrent callers cannot interleave
func (d *Device) SendRecv(b []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.send(b); err != nil {
		return nil, err
	}
	return d.recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect,
// read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
