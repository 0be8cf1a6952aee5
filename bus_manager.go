package ftl

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type subscription struct {
	ident    uint32
	mask     uint32
	listener FrameListener
}

// Bus manager is a wrapper around the CAN bus interface
// Used by the driver to route received frames to listeners of specific IDs
type BusManager struct {
	mu            sync.Mutex
	bus           Bus // Bus interface that can be adapted
	subscriptions []subscription
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	subs := bm.subscriptions
	bm.mu.Unlock()
	for _, sub := range subs {
		if frame.ID&sub.mask == sub.ident&sub.mask {
			sub.listener.Handle(frame)
		}
	}
}

// Set bus
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNotConnected
	}
	err := bus.Send(frame)
	if err != nil {
		log.Warnf("[CAN] %v", err)
	}
	return err
}

// Subscribe to a specific CAN ID. Bits cleared in mask are ignored when
// matching, a mask of 0 receives every frame.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback FrameListener) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	if rtr {
		ident |= CanRtrFlag
		mask |= CanRtrFlag
	}
	// Verify that we are not adding the same one twice
	for _, sub := range bm.subscriptions {
		if sub.ident == ident && sub.mask == mask && sub.listener == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	// Copy on write so that Handle can iterate without holding the lock
	subs := make([]subscription, len(bm.subscriptions), len(bm.subscriptions)+1)
	copy(subs, bm.subscriptions)
	bm.subscriptions = append(subs, subscription{ident: ident, mask: mask, listener: callback})
	return nil
}

// Remove every subscription of the given listener
func (bm *BusManager) Unsubscribe(callback FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	subs := make([]subscription, 0, len(bm.subscriptions))
	for _, sub := range bm.subscriptions {
		if sub.listener != callback {
			subs = append(subs, sub)
		}
	}
	bm.subscriptions = subs
}

func NewBusManager(bus Bus) *BusManager {
	return &BusManager{bus: bus}
}
