// Package simulator answers measurement requests the way an FTL sensor does.
// It runs on any bus and supports injecting the faults the driver must cope
// with : silence, lost frames, stale counters, overload.
package simulator

import (
	"sync"

	ftl "github.com/ftsensor/goftl"
	"github.com/ftsensor/goftl/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

type Sensor struct {
	mu          sync.Mutex
	bm          *ftl.BusManager
	baseID      uint32
	channels    [6]int16
	temperature int8
	status      protocol.Status
	silent      bool
	dropFirst   bool
	dropSecond  bool
	swapHalves  bool
	counterSkew uint8
	requests    int
}

// Create a simulated sensor answering on the given base identifier
func New(bus ftl.Bus, baseID uint32) *Sensor {
	return &Sensor{bm: ftl.NewBusManager(bus), baseID: baseID, temperature: 25}
}

// Start answering requests. The bus must be connected.
func (s *Sensor) Start() error {
	err := s.bm.Subscribe(s.baseID+protocol.RequestOffset, ftl.CanSffDataMask, false, s)
	if err != nil {
		return err
	}
	return s.bm.Bus().Subscribe(s.bm)
}

// Handle a request frame
func (s *Sensor) Handle(frame ftl.Frame) {
	counter, ok := protocol.DecodeRequest(s.baseID, frame)
	if !ok {
		return
	}
	s.mu.Lock()
	s.requests++
	if s.silent {
		s.mu.Unlock()
		return
	}
	counter += s.counterSkew
	first := protocol.PartialReading{Half: protocol.FirstHalf, Counter: counter, Status: s.status}
	second := protocol.PartialReading{Half: protocol.SecondHalf, Counter: counter, Temperature: s.temperature}
	copy(first.Channels[:], s.channels[:3])
	copy(second.Channels[:], s.channels[3:])
	replies := make([]ftl.Frame, 0, 2)
	if !s.dropFirst {
		replies = append(replies, protocol.EncodeReply(s.baseID, first))
	}
	if !s.dropSecond {
		replies = append(replies, protocol.EncodeReply(s.baseID, second))
	}
	if s.swapHalves && len(replies) == 2 {
		replies[0], replies[1] = replies[1], replies[0]
	}
	s.mu.Unlock()

	for _, reply := range replies {
		if err := s.bm.Send(reply); err != nil {
			log.Warnf("[SIM] failed to send reply : %v", err)
		}
	}
}

// Raw channel values sent in the next replies
func (s *Sensor) SetChannels(channels [6]int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = channels
}

func (s *Sensor) SetTemperature(celsius int8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = celsius
}

func (s *Sensor) SetStatus(status protocol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Do not answer requests at all
func (s *Sensor) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Do not send the given halves
func (s *Sensor) SetDrop(first bool, second bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropFirst = first
	s.dropSecond = second
}

// Send the second half before the first one
func (s *Sensor) SetSwapHalves(swap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapHalves = swap
}

// Answer with the request counter plus skew
func (s *Sensor) SetCounterSkew(skew uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterSkew = skew
}

// Number of requests received
func (s *Sensor) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}
