package ftl

import "fmt"

const CanRtrFlag uint32 = 0x40000000
const CanSffMask uint32 = 0x000007FF
const CanEffFlag uint32 = 0x80000000

// Mask matching a standard identifier on standard data frames only,
// extended and remote frames never match
const CanSffDataMask = CanSffMask | CanEffFlag | CanRtrFlag

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// String formats the frame the way candump does, e.g. "051 [8] 01 00 ..."
func (f Frame) String() string {
	s := fmt.Sprintf("%03X [%d]", f.ID&CanSffMask, f.DLC)
	for i := 0; i < int(f.DLC) && i < len(f.Data); i++ {
		s += fmt.Sprintf(" %02X", f.Data[i])
	}
	return s
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}
