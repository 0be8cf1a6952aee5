package sensor

import (
	"github.com/ftsensor/goftl/pkg/calibration"
	"github.com/ftsensor/goftl/pkg/protocol"
)

// Collects the two halves of the reply to one request
type assembly struct {
	counter uint8
	first   *protocol.PartialReading
	second  *protocol.PartialReading
}

func newAssembly(counter uint8) *assembly {
	return &assembly{counter: counter}
}

// Store a half, returns false if it belongs to another request
// or if that half was already received
func (a *assembly) add(p protocol.PartialReading) bool {
	if p.Counter != a.counter {
		return false
	}
	switch p.Half {
	case protocol.FirstHalf:
		if a.first != nil {
			return false
		}
		a.first = &p
	case protocol.SecondHalf:
		if a.second != nil {
			return false
		}
		a.second = &p
	default:
		return false
	}
	return true
}

func (a *assembly) empty() bool {
	return a.first == nil && a.second == nil
}

func (a *assembly) complete() bool {
	return a.first != nil && a.second != nil
}

// State matching what is still missing
func (a *assembly) state() State {
	switch {
	case a.complete():
		return StateComplete
	case a.first != nil:
		return StateAwaitingSecondHalf
	default:
		return StateAwaitingFirstHalf
	}
}

// Full reading, only valid once complete
func (a *assembly) reading() SensorReading {
	var counts [calibration.Axes]int16
	copy(counts[:3], a.first.Channels[:])
	copy(counts[3:], a.second.Channels[:])
	return SensorReading{
		Counter:     a.counter,
		Raw:         calibration.RawToFloat(counts),
		Temperature: float64(a.second.Temperature),
		Status:      a.first.Status,
	}
}
