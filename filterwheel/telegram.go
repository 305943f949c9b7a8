package filterwheel

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// specialCharFirstReplacement is the first byte used to replace a special character
	specialCharFirstReplacement = 0x5E

	// specialCharShift is the amount to shift special characters up.
	// special characters max out at 0x5E, so we will never overflow
	specialCharShift = 0x40
)

// registers on the wheel controller
const (
	regFilter    = 0x30
	regZoom      = 0x31
	regIntensity = 0x32
)

var (
	// specialChars is a byte slice of values that must be filtered out of messages
	specialChars = []byte{0x0A, 0x0D, 0x5E}

	crcTable = crc.NewTable(crc.XMODEM)

	// opcodesSB maps strings to the bytecode for the message type
	opcodesSB = map[string]byte{
		"Nack":  0,
		"Ack":   3,
		"Read":  4,
		"Write": 5,
	}

	// opcodesBS maps bytecodes to the type of message received
	opcodesBS = map[byte]string{
		0: "Nack",
		3: "Ack",
		4: "Read",
		5: "Write",
	}
)

// Telegram is a struct holding the raw bytes for a message before packing,
// CRC, and other processing
type Telegram struct {
	Register byte
	Type     string
	Data     []byte
}

func crcHelper(buf []byte) []byte {
	crcUint := crcTable.CalculateCRC(buf)
	return []byte{byte(crcUint >> 8), byte(crcUint)}
}

func sanitize(data []byte) []byte {
	out := []byte{}
	for _, b := range data {
		if bytes.Contains(specialChars, []byte{b}) {
			out = append(out, specialCharFirstReplacement, b+specialCharShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := []byte{}
	subNext := false
	for _, b := range data {
		if b == specialCharFirstReplacement {
			// if we hit a substitution marker, do nothing with this byte
			// and indicate to subtract from the next one
			subNext = true
		} else {
			if subNext {
				b = b - specialCharShift
			}
			out = append(out, b)
			subNext = false
		}
	}
	return out
}

// messages are encoded as [SOT][MESSAGE][EOT].
// the message is formatted as
// [TYPE] [REGISTER] [0..240 data bytes] [CRC]

// Encode produces a wire telegram from the constituent pieces.
// the workflow is as follows:
//  0. Using the message and metadata (what type, what register)
//     generate the message body
//  1. Scan for special characters and replace them as implemented
//     in sanitize()
//  2. Calculate a CRC-16 value based on CRC-CCITT XMODEM.  sanitize() it
//     and append to the message
//  3. Prepend and append [SOT] and [EOT]
func Encode(t Telegram) ([]byte, error) {
	var typ byte
	if _, ok := opcodesSB[t.Type]; !ok {
		return []byte{}, fmt.Errorf("message type %s is invalid", t.Type)
	}
	typ = opcodesSB[t.Type]
	buf := append([]byte{typ, t.Register}, t.Data...)

	crcBytes := crcHelper(buf)
	buf = append(buf, crcBytes...)
	buf = sanitize(buf)

	out := append([]byte{telStart}, buf...)
	out = append(out, telEnd)
	return out, nil
}

// Decode renders a raw byte stream into a Telegram
func Decode(tele []byte) (Telegram, error) {
	if !bytes.Contains(tele, []byte{telStart}) {
		return Telegram{}, fmt.Errorf("telegram start byte %X not found", telStart)
	} else if !bytes.Contains(tele, []byte{telEnd}) {
		return Telegram{}, fmt.Errorf("telegram end byte %X not found", telEnd)
	}

	// if we have both, drop anything else
	iStart := bytes.IndexByte(tele, telStart)
	iEnd := bytes.LastIndexByte(tele, telEnd)
	tele = tele[iStart+1 : iEnd]

	// now desanitize the message
	tele = reverseSanitize(tele)

	// pop the CRC bytes
	fidx := len(tele) - 2
	crcBytesRecv := tele[fidx:]
	tele = tele[:fidx]

	// compute the CRC and ensure we match
	crcBytesCompute := crcHelper(tele)
	if !bytes.Equal(crcBytesRecv, crcBytesCompute) {
		return Telegram{}, errors.New("CRC mismatch, significant data lost in transmission.  Wheel state unknown.")
	}

	typ, ok := opcodesBS[tele[0]]
	if !ok {
		return Telegram{}, fmt.Errorf("message type byte %X is invalid", tele[0])
	}
	return Telegram{
		Type:     typ,
		Register: tele[1],
		Data:     tele[2:],
	}, nil
}
