package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	ftl "github.com/ftsensor/goftl"
	_ "github.com/ftsensor/goftl/pkg/can/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoDevice = errors.New("no such device")

type fakeBus struct {
	mu          sync.Mutex
	connectErr  error
	filterErr   error
	connected   bool
	disconnects int
	filtered    []uint32
	sent        []ftl.Frame
	listener    ftl.FrameListener
}

func (b *fakeBus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnects++
	return nil
}

func (b *fakeBus) Send(frame ftl.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, frame)
	return nil
}

func (b *fakeBus) Subscribe(listener ftl.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *fakeBus) FilterIDs(ids ...uint32) error {
	b.filtered = ids
	return b.filterErr
}

// Simulate a frame coming from the bus
func (b *fakeBus) receive(frame ftl.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	listener.Handle(frame)
}

func newFakeAdapter(bus *fakeBus, ids ...uint32) *Adapter {
	return NewWithBus(func(channel string) (ftl.Bus, error) { return bus, nil }, ids...)
}

func TestOpenFiltersIDs(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus, 0x51, 0x52)
	require.Nil(t, adapter.Open("can0"))
	defer adapter.Close()
	assert.True(t, bus.connected)
	assert.Equal(t, []uint32{0x51, 0x52}, bus.filtered)

	bus.receive(ftl.Frame{ID: 0x99, DLC: 8})
	bus.receive(ftl.Frame{ID: 0x52, DLC: 8, Data: [8]byte{7}})
	frame, err := adapter.Read(10 * time.Millisecond)
	require.Nil(t, err)
	assert.EqualValues(t, 0x52, frame.ID)
	_, err = adapter.Read(10 * time.Millisecond)
	assert.ErrorIs(t, err, ftl.ErrTimeout)
}

func TestOpenIgnoresExtendedAndRemoteFrames(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus, 0x51, 0x52)
	require.Nil(t, adapter.Open("can0"))
	defer adapter.Close()

	bus.receive(ftl.Frame{ID: ftl.CanEffFlag | 0x00AB0051, DLC: 8})
	bus.receive(ftl.Frame{ID: ftl.CanRtrFlag | 0x52, DLC: 8})
	_, err := adapter.Read(10 * time.Millisecond)
	assert.ErrorIs(t, err, ftl.ErrTimeout)

	bus.receive(ftl.Frame{ID: 0x51, DLC: 8})
	frame, err := adapter.Read(10 * time.Millisecond)
	require.Nil(t, err)
	assert.EqualValues(t, 0x51, frame.ID)
}

func TestOpenWithoutIDsReceivesEverything(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus)
	require.Nil(t, adapter.Open("can0"))
	defer adapter.Close()
	assert.Nil(t, bus.filtered)
	bus.receive(ftl.Frame{ID: 0x7FF})
	frame, err := adapter.Read(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0x7FF, frame.ID)
}

func TestOpenFailureReleasesBus(t *testing.T) {
	bus := &fakeBus{connectErr: errNoDevice}
	adapter := newFakeAdapter(bus, 0x51)
	assert.ErrorIs(t, adapter.Open("can0"), errNoDevice)
	assert.Equal(t, 1, bus.disconnects)

	bus = &fakeBus{filterErr: errNoDevice}
	adapter = newFakeAdapter(bus, 0x51)
	assert.ErrorIs(t, adapter.Open("can0"), errNoDevice)
	assert.Equal(t, 1, bus.disconnects)
	assert.False(t, bus.connected)

	_, err := adapter.Read(time.Millisecond)
	assert.ErrorIs(t, err, ftl.ErrNotConnected)
	assert.ErrorIs(t, adapter.Write(ftl.Frame{}), ftl.ErrNotConnected)
}

func TestUnknownInterface(t *testing.T) {
	assert.NotNil(t, New("carrier-pigeon").Open("can0"))
}

func TestWrite(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus, 0x51)
	require.Nil(t, adapter.Open("can0"))
	defer adapter.Close()
	frame := ftl.NewFrame(0x50, 0, 2)
	require.Nil(t, adapter.Write(frame))
	assert.Equal(t, []ftl.Frame{frame}, bus.sent)
}

func TestCloseUnblocksRead(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus, 0x51)
	require.Nil(t, adapter.Open("can0"))

	errs := make(chan error)
	go func() {
		_, err := adapter.Read(5 * time.Second)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.Nil(t, adapter.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ftl.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after close")
	}
	assert.Nil(t, adapter.Close())
	assert.Equal(t, 1, bus.disconnects)
}

func TestQueueOverflow(t *testing.T) {
	bus := &fakeBus{}
	adapter := newFakeAdapter(bus, 0x51)
	require.Nil(t, adapter.Open("can0"))
	defer adapter.Close()
	for i := 0; i < DefaultQueueSize+3; i++ {
		bus.receive(ftl.Frame{ID: 0x51, Data: [8]byte{uint8(i)}})
	}
	assert.EqualValues(t, 3, adapter.Dropped())
	frame, err := adapter.Read(0)
	require.Nil(t, err)
	assert.EqualValues(t, 0, frame.Data[0])
}

func TestLoopback(t *testing.T) {
	a := New("loopback", 0x60)
	b := New("loopback")
	require.Nil(t, a.Open("transport-test"))
	defer a.Close()
	require.Nil(t, b.Open("transport-test"))
	defer b.Close()

	require.Nil(t, b.Write(ftl.Frame{ID: 0x61}))
	require.Nil(t, b.Write(ftl.Frame{ID: 0x60, DLC: 1, Data: [8]byte{42}}))
	frame, err := a.Read(time.Second)
	require.Nil(t, err)
	assert.EqualValues(t, 42, frame.Data[0])

	require.Nil(t, a.Write(ftl.Frame{ID: 0x70}))
	frame, err = b.Read(time.Second)
	require.Nil(t, err)
	assert.EqualValues(t, 0x70, frame.ID)
}
