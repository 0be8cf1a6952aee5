package virtual

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	ftl "github.com/ftsensor/goftl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Minimal virtualcan broker, forwards every message to the other clients
type broker struct {
	mu       sync.Mutex
	listener net.Listener
	clients  map[net.Conn]struct{}
}

func startBroker(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	b := &broker{listener: listener, clients: make(map[net.Conn]struct{})}
	go b.serve()
	t.Cleanup(b.close)
	return listener.Addr().String()
}

func (b *broker) serve() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.clients[conn] = struct{}{}
		b.mu.Unlock()
		go b.relay(conn)
	}
}

func (b *broker) relay(conn net.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		message := append(append([]byte{}, header...), payload...)
		b.mu.Lock()
		for client := range b.clients {
			if client != conn {
				_, _ = client.Write(message)
			}
		}
		b.mu.Unlock()
	}
}

func (b *broker) close() {
	b.listener.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		client.Close()
	}
}

type frameReceiver struct {
	mu     sync.Mutex
	frames []ftl.Frame
}

func (r *frameReceiver) Handle(frame ftl.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameReceiver) received() []ftl.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ftl.Frame{}, r.frames...)
}

func newVcan(t *testing.T, channel string) *Bus {
	bus, err := NewVirtualCanBus(channel)
	require.Nil(t, err)
	vcan := bus.(*Bus)
	require.Nil(t, vcan.Connect())
	t.Cleanup(func() { _ = vcan.Disconnect() })
	return vcan
}

func TestSerializeFrame(t *testing.T) {
	frame := ftl.Frame{ID: 0x51, Flags: 0, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	raw, err := serializeFrame(frame)
	require.Nil(t, err)
	assert.Len(t, raw, 4+frameSize)
	assert.EqualValues(t, frameSize, binary.BigEndian.Uint32(raw))
	assert.Equal(t, []byte{0, 0, 0, 0x51, 0, 8}, raw[4:10])
	decoded, err := deserializeFrame(raw[4:])
	require.Nil(t, err)
	assert.Equal(t, frame, *decoded)
}

func TestSendAndSubscribe(t *testing.T) {
	channel := startBroker(t)
	vcan1 := newVcan(t, channel)
	vcan2 := newVcan(t, channel)
	receiver := &frameReceiver{}
	require.Nil(t, vcan2.Subscribe(receiver))

	frame := ftl.Frame{ID: 0x111, DLC: 8, Data: [8]byte{0, 1, 2, 3, 4, 5, 6, 7}}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		require.Nil(t, vcan1.Send(frame))
	}
	assert.Eventually(t, func() bool { return len(receiver.received()) == 10 }, 2*time.Second, 10*time.Millisecond)
	for i, received := range receiver.received() {
		assert.Equal(t, uint8(i), received.Data[0])
		assert.EqualValues(t, 0x111, received.ID)
	}
}

func TestReceiveOwn(t *testing.T) {
	channel := startBroker(t)
	vcan := newVcan(t, channel)
	receiver := &frameReceiver{}
	require.Nil(t, vcan.Subscribe(receiver))
	vcan.SetReceiveOwn(true)
	require.Nil(t, vcan.Send(ftl.NewFrame(0x50, 0, 2)))
	assert.Len(t, receiver.received(), 1)
}

func TestConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	channel := listener.Addr().String()
	listener.Close()

	bus, _ := NewVirtualCanBus(channel)
	assert.NotNil(t, bus.Connect())
	assert.NotNil(t, bus.Send(ftl.NewFrame(0x50, 0, 2)))
	assert.Nil(t, bus.Disconnect())
}

func TestDisconnectTwice(t *testing.T) {
	channel := startBroker(t)
	vcan := newVcan(t, channel)
	require.Nil(t, vcan.Subscribe(&frameReceiver{}))
	assert.Nil(t, vcan.Disconnect())
	assert.Nil(t, vcan.Disconnect())
}
