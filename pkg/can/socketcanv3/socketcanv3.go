//go:build linux

package socketcanv3

import (
	"context"
	"fmt"
	"net"
	"sync"
	"unsafe"

	ftl "github.com/ftsensor/goftl"
	can "github.com/ftsensor/goftl/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func init() {
	can.RegisterInterface("socketcanv3", NewBus)
}

const (
	canFrameSize = 16
	// The maximum number of CAN frames to read at once (batch size)
	msgBatchSize = 64
)

var defaultTimeVal = unix.Timeval{}

func init() {
	// Let go infer the type on startup
	// because these values are architecture dependent
	defaultTimeVal.Usec = 100_000 // 100 ms
}

// CANFrame represents the structure of a CAN frame, matching the C layout.
type CANFrame struct {
	ID   uint32
	Len  uint8
	Pad  uint8
	Res0 uint8
	Res1 uint8
	Data [8]uint8
}

// Bus reads raw SocketCAN frames with recvmmsg, batching reception
type Bus struct {
	mu         sync.Mutex
	fd         int
	rxCallback ftl.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewBus(channel string) (ftl.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %v", err)
	}
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultTimeVal)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout %v", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Bus{fd: fd}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ftl.ErrClosed
	}
	if b.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
// The socket is released, a new bus must be created to reconnect
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	// Reception goroutine takes the lock to read the callback
	if cancel != nil {
		cancel()
		b.wg.Wait()
	}
	return unix.Close(b.fd)
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame ftl.Frame) error {
	canFrame := &CANFrame{}
	canFrame.ID = frame.ID
	canFrame.Len = frame.DLC
	canFrame.Pad = frame.Flags
	canFrame.Data = frame.Data

	rawData := (*(*[canFrameSize]byte)(unsafe.Pointer(canFrame)))[:]
	n, err := unix.Write(b.fd, rawData)
	if err != nil {
		return err
	}
	if n != canFrameSize {
		return fmt.Errorf("short write : %v bytes", n)
	}
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {

	if err := unix.SetNonblock(b.fd, false); err != nil {
		log.Errorf("[CAN] failed to set blocking mode : %v", err)
		return
	}

	frames := make([]CANFrame, msgBatchSize)
	iovecs := make([]unix.Iovec, msgBatchSize)
	mmsgs := make([]Mmsghdr, msgBatchSize)

	for i := 0; i < msgBatchSize; i++ {
		iovecs[i].Base = (*byte)(unsafe.Pointer(&frames[i]))
		iovecs[i].SetLen(canFrameSize)
		mmsgs[i].Hdr.Iov = &iovecs[i]
		mmsgs[i].Hdr.Iovlen = 1
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("[CAN] exiting socketcanv3 reception, closed")
			return
		default:
			ts := unix.Timespec{
				Nsec: 10_000_000, // 10ms
			}

			n, _, errno := unix.Syscall6(
				unix.SYS_RECVMMSG,
				uintptr(b.fd),
				uintptr(unsafe.Pointer(&mmsgs[0])),
				uintptr(msgBatchSize),
				0, // Flags: 0 means "Wait for full batch or timeout"
				uintptr(unsafe.Pointer(&ts)),
				0,
			)

			if errno != 0 {
				if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
					continue
				}
				log.Errorf("[CAN] socketcanv3 syscall error : %v", errno)
				return
			}

			nbMsg := int(n)
			if nbMsg == 0 {
				log.Info("[CAN] socketcanv3 socket closed")
				return
			}

			b.mu.Lock()
			rxCallback := b.rxCallback
			b.mu.Unlock()
			for i := 0; i < nbMsg; i++ {
				frame := frames[i]
				if rxCallback != nil {
					rxCallback.Handle(ftl.Frame{ID: frame.ID, DLC: frame.Len, Data: frame.Data})
				}
			}
		}
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(rxCallback ftl.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

// Enable own reception on the bus. CAN be useful when testing for example
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	log.Infof("[CAN] setting option 'CAN_RAW_RECV_OWN_MSGS' fd %v enabled %v", b.fd, enabled)
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// Add some filtering to CAN bus, frames not matching any filter are dropped by the kernel
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	log.Infof("[CAN] setting option 'CAN_RAW_FILTER' fd %v filters %v", b.fd, filters)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

// Only receive the given standard identifiers
func (b *Bus) FilterIDs(ids ...uint32) error {
	filters := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		filters = append(filters, unix.CanFilter{Id: id & ftl.CanSffMask, Mask: ftl.CanSffDataMask})
	}
	return b.SetFilters(filters)
}
