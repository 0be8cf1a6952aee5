package socketcan

import (
	"errors"
	"sync"

	sockcan "github.com/brutella/can"
	ftl "github.com/ftsensor/goftl"
	can "github.com/ftsensor/goftl/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	bus        *sockcan.Bus
	rxCallback ftl.FrameListener
	running    bool
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	if socketcan.running {
		return nil
	}
	socketcan.running = true
	go func() {
		err := socketcan.bus.ConnectAndPublish()
		if err != nil {
			log.Warnf("[CAN] socketcan reception stopped : %v", err)
		}
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	socketcan.running = false
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame ftl.Frame) error {
	return socketcan.bus.Publish(
		sockcan.Frame{
			ID:     frame.ID,
			Length: frame.DLC,
			Flags:  frame.Flags,
			Res0:   0,
			Res1:   0,
			Data:   frame.Data,
		})
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback ftl.FrameListener) error {
	if rxCallback == nil {
		return errors.New("nil frame listener")
	}
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.mu.Lock()
	rxCallback := socketcan.rxCallback
	socketcan.mu.Unlock()
	if rxCallback == nil {
		return
	}
	// Convert brutella frame to ftl frame
	rxCallback.Handle(ftl.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}

func NewSocketCanBus(name string) (ftl.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}
