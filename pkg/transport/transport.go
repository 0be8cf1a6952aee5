// Package transport turns a callback based CAN bus into the blocking
// open / write / read(timeout) / close primitives used by the sensor driver.
package transport

import (
	"sync"
	"time"

	ftl "github.com/ftsensor/goftl"
	can "github.com/ftsensor/goftl/pkg/can"
	log "github.com/sirupsen/logrus"
)

const DefaultQueueSize = 64

// Backends that can filter identifiers in hardware or in the kernel
type idFilter interface {
	FilterIDs(ids ...uint32) error
}

// Adapter owns one CAN bus handle. Received frames matching the configured
// identifiers are queued until read.
type Adapter struct {
	mu           sync.Mutex
	canInterface string
	ids          []uint32
	newBus       can.NewInterfaceFunc
	bm           *ftl.BusManager
	rx           chan ftl.Frame
	closed       chan struct{}
	dropped      uint64
}

// Create an adapter for the given interface type (socketcan, virtual, ...).
// Only frames with one of the given identifiers are queued, all frames are
// queued when no identifier is given.
func New(canInterface string, ids ...uint32) *Adapter {
	return &Adapter{canInterface: canInterface, ids: ids}
}

// Create an adapter on top of a custom bus constructor
func NewWithBus(newBus can.NewInterfaceFunc, ids ...uint32) *Adapter {
	return &Adapter{newBus: newBus, ids: ids}
}

// Open the channel e.g. "can0". Everything acquired is released again when
// a later step fails.
func (a *Adapter) Open(channel string) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bm != nil {
		return nil
	}
	var bus ftl.Bus
	if a.newBus != nil {
		bus, err = a.newBus(channel)
	} else {
		bus, err = can.NewBus(a.canInterface, channel)
	}
	if err != nil {
		return err
	}
	if err = bus.Connect(); err != nil {
		_ = bus.Disconnect()
		return err
	}
	defer func() {
		if err != nil {
			_ = bus.Disconnect()
		}
	}()
	if filter, ok := bus.(idFilter); ok && len(a.ids) > 0 {
		if err = filter.FilterIDs(a.ids...); err != nil {
			return err
		}
	}
	bm := ftl.NewBusManager(bus)
	if len(a.ids) == 0 {
		err = bm.Subscribe(0, 0, false, a)
	}
	for _, id := range a.ids {
		if err = bm.Subscribe(id, ftl.CanSffDataMask, false, a); err != nil {
			break
		}
	}
	if err != nil {
		return err
	}
	a.rx = make(chan ftl.Frame, DefaultQueueSize)
	a.closed = make(chan struct{})
	a.bm = bm
	if err = bus.Subscribe(bm); err != nil {
		a.bm = nil
		return err
	}
	log.Debugf("[CAN] opened %v channel %v", a.canInterface, channel)
	return nil
}

// Close the bus handle. A pending Read returns ftl.ErrClosed.
// Closing a closed adapter is a no-op.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bm == nil {
		return nil
	}
	close(a.closed)
	bus := a.bm.Bus()
	a.bm = nil
	return bus.Disconnect()
}

// Write one frame
func (a *Adapter) Write(frame ftl.Frame) error {
	a.mu.Lock()
	bm := a.bm
	a.mu.Unlock()
	if bm == nil {
		return ftl.ErrNotConnected
	}
	return bm.Send(frame)
}

// Read the next queued frame, waiting at most timeout.
// Returns ftl.ErrTimeout if nothing arrived in time.
func (a *Adapter) Read(timeout time.Duration) (ftl.Frame, error) {
	a.mu.Lock()
	rx, closed := a.rx, a.closed
	open := a.bm != nil
	a.mu.Unlock()
	if !open {
		return ftl.Frame{}, ftl.ErrNotConnected
	}
	// Frames already queued are returned even if the timeout is 0
	select {
	case frame := <-rx:
		return frame, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-rx:
		return frame, nil
	case <-closed:
		return ftl.Frame{}, ftl.ErrClosed
	case <-timer.C:
		return ftl.Frame{}, ftl.ErrTimeout
	}
}

// Implements ftl.FrameListener, called from the bus reception goroutine
func (a *Adapter) Handle(frame ftl.Frame) {
	a.mu.Lock()
	rx := a.rx
	a.mu.Unlock()
	if rx == nil {
		return
	}
	select {
	case rx <- frame:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		log.Warnf("[CAN] receive queue full, dropping %v", frame)
	}
}

// Number of frames dropped because the receive queue was full
func (a *Adapter) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
