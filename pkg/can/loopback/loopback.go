package loopback

import (
	"sync"

	ftl "github.com/ftsensor/goftl"
	can "github.com/ftsensor/goftl/pkg/can"
)

// In-memory CAN bus, every bus created on the same channel name is attached
// to the same hub and receives the frames sent by the others.
// Used by tests and for running against a simulated sensor in-process.

func init() {
	can.RegisterInterface("loopback", NewLoopbackBus)
}

type hub struct {
	mu    sync.RWMutex
	buses map[*Bus]struct{}
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{buses: make(map[*Bus]struct{})}
		hubs[channel] = h
	}
	return h
}

// Bus is one endpoint on a loopback hub
type Bus struct {
	hub        *hub
	mu         sync.Mutex
	connected  bool
	receiveOwn bool
	listener   ftl.FrameListener
	rx         chan ftl.Frame
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewLoopbackBus(channel string) (ftl.Bus, error) {
	return &Bus{hub: getHub(channel)}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.rx = make(chan ftl.Frame, 256)
	b.done = make(chan struct{})
	b.connected = true
	b.wg.Add(1)
	go b.dispatch(b.rx, b.done)

	b.hub.mu.Lock()
	b.hub.buses[b] = struct{}{}
	b.hub.mu.Unlock()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	b.hub.mu.Lock()
	delete(b.hub.buses, b)
	b.hub.mu.Unlock()

	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// "Send" implementation of Bus interface
// Frames are queued to every other endpoint, a full queue drops the frame
// like a controller with an overflowing receive buffer would.
func (b *Bus) Send(frame ftl.Frame) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return ftl.ErrNotConnected
	}
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for target := range b.hub.buses {
		if target == b && !b.receiveOwn {
			continue
		}
		target.deliver(frame)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(listener ftl.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) deliver(frame ftl.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return
	}
	select {
	case b.rx <- frame:
	default:
	}
}

// Frames are handed to the listener from a single goroutine, in order
func (b *Bus) dispatch(rx chan ftl.Frame, done chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-done:
			return
		case frame := <-rx:
			b.mu.Lock()
			listener := b.listener
			b.mu.Unlock()
			if listener != nil {
				listener.Handle(frame)
			}
		}
	}
}
