package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	ftl "github.com/ftsensor/goftl"
)

var (
	ErrUnknownFrame = errors.New("unknown frame identifier")
	ErrFrameLength  = errors.New("wrong reply frame length")
)

// Default sensor base identifier (0x50)
const DefaultBaseID uint32 = 80

// Identifier offsets from the sensor base identifier
const (
	RequestOffset    uint32 = 0
	FirstHalfOffset  uint32 = 1
	SecondHalfOffset uint32 = 2
)

// Highest base identifier leaving room for both reply identifiers
const MaxBaseID = ftl.CanSffMask - SecondHalfOffset

const (
	CmdReadForceTorque uint8 = 0x01

	RequestLength uint8 = 2
	ReplyLength   uint8 = 8
	NbChannels          = 6
)

// Byte positions, shared by the request and both reply halves
const (
	counterPos  = 0
	commandPos  = 1
	channelsPos = 1
	trailerPos  = 7
)

// Status byte sent in the first reply half
type Status uint8

const (
	StatusOverload Status = 1 << 0
	StatusFault    Status = 1 << 1
)

func (s Status) Overload() bool { return s&StatusOverload != 0 }
func (s Status) Fault() bool    { return s&StatusFault != 0 }

func (s Status) String() string {
	return fmt.Sprintf("x%02x(overload=%v,fault=%v)", uint8(s), s.Overload(), s.Fault())
}

// Which part of a reply a frame carries
type Half uint8

const (
	FirstHalf  Half = 1
	SecondHalf Half = 2
)

func (h Half) String() string {
	switch h {
	case FirstHalf:
		return "first"
	case SecondHalf:
		return "second"
	}
	return "unknown"
}

// Decoded content of one reply frame.
// First half carries channels 0-2 and the status byte, second half carries
// channels 3-5 and the temperature.
type PartialReading struct {
	Half        Half
	Counter     uint8
	Channels    [3]int16
	Status      Status
	Temperature int8
}

// Build the measurement request frame for the given counter
func EncodeRequest(baseID uint32, counter uint8) ftl.Frame {
	frame := ftl.NewFrame(baseID+RequestOffset, 0, RequestLength)
	frame.Data[counterPos] = counter
	frame.Data[commandPos] = CmdReadForceTorque
	return frame
}

// Decode a reply frame sent by the sensor with the given base identifier
func DecodeReply(baseID uint32, frame ftl.Frame) (PartialReading, error) {
	var half Half
	// Flags are kept in the identifier, extended and remote frames never match
	switch frame.ID {
	case baseID + FirstHalfOffset:
		half = FirstHalf
	case baseID + SecondHalfOffset:
		half = SecondHalf
	default:
		return PartialReading{}, fmt.Errorf("%w : x%x", ErrUnknownFrame, frame.ID)
	}
	if frame.DLC < ReplyLength {
		return PartialReading{}, fmt.Errorf("%w : %v half, dlc %v", ErrFrameLength, half, frame.DLC)
	}
	p := PartialReading{Half: half, Counter: frame.Data[counterPos]}
	for i := range p.Channels {
		pos := channelsPos + 2*i
		p.Channels[i] = int16(binary.BigEndian.Uint16(frame.Data[pos : pos+2]))
	}
	if half == FirstHalf {
		p.Status = Status(frame.Data[trailerPos])
	} else {
		p.Temperature = int8(frame.Data[trailerPos])
	}
	return p, nil
}

// Build a reply frame, this is what the sensor sends back
func EncodeReply(baseID uint32, p PartialReading) ftl.Frame {
	offset := FirstHalfOffset
	if p.Half == SecondHalf {
		offset = SecondHalfOffset
	}
	frame := ftl.NewFrame(baseID+offset, 0, ReplyLength)
	frame.Data[counterPos] = p.Counter
	for i, v := range p.Channels {
		pos := channelsPos + 2*i
		binary.BigEndian.PutUint16(frame.Data[pos:pos+2], uint16(v))
	}
	if p.Half == SecondHalf {
		frame.Data[trailerPos] = uint8(p.Temperature)
	} else {
		frame.Data[trailerPos] = uint8(p.Status)
	}
	return frame
}

// Decode a request frame, returns false if it is not a measurement request
func DecodeRequest(baseID uint32, frame ftl.Frame) (counter uint8, ok bool) {
	if frame.ID != baseID+RequestOffset || frame.DLC < RequestLength {
		return 0, false
	}
	if frame.Data[commandPos] != CmdReadForceTorque {
		return 0, false
	}
	return frame.Data[counterPos], true
}
