// Package trace captures the raw bytes exchanged on a bus.
package trace

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction tells whether bytes were sent or received.
type Direction byte

const (
	Output Direction = iota + 1
	Input
)

func (d Direction) String() string {
	switch d {
	case Output:
		return "TX"
	case Input:
		return "RX"
	default:
		return fmt.Sprintf("Direction(%d)", byte(d))
	}
}

// Entry is one captured transmission.
type Entry struct {
	Direction Direction
	BusID     uuid.UUID
	Data      []byte
	Time      time.Time
}

// Tracer receives a copy of every transmission. It is called synchronously from the
// polling loop and must not block.
type Tracer func(Entry)

// Hex formats e on one line, e.g. "2024-01-02T15:04:05.000Z TX ff5301...".
func Hex(e Entry) string {
	return fmt.Sprintf("%s %s %s", e.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"), e.Direction, hex.EncodeToString(e.Data))
}

// Multi returns a Tracer that forwards each entry to every non-nil tracer.
func Multi(tracers ...Tracer) Tracer {
	return func(e Entry) {
		for _, t := range tracers {
			if t != nil {
				t(e)
			}
		}
	}
}
