// Package sensor drives a Schunk FTL force / torque sensor.
//
// Each call to [Driver.DoComm] runs one request / reply exchange : a request
// frame carrying a one byte counter is sent, the sensor answers with two
// frames echoing that counter, the reading is assembled, calibrated and
// published. The caller is in charge of calling DoComm periodically, see
// [Poller].
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ftl "github.com/ftsensor/goftl"
	"github.com/ftsensor/goftl/pkg/calibration"
	"github.com/ftsensor/goftl/pkg/config"
	"github.com/ftsensor/goftl/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// Blocking CAN primitives used by the driver, see transport.Adapter
type Transport interface {
	Open(channel string) error
	Close() error
	Write(frame ftl.Frame) error
	// Read returns ftl.ErrTimeout when nothing arrives in time
	// and ftl.ErrClosed when Close interrupts it
	Read(timeout time.Duration) (ftl.Frame, error)
}

type Driver struct {
	cfg       config.SensorConfig
	transport Transport
	tracker   *protocol.Tracker
	bias      biasEstimator

	// Serializes request / reply exchanges
	exchange sync.Mutex
	// Serializes connect, disconnect and calibration changes
	lifecycle sync.Mutex

	profile        atomic.Pointer[calibration.Profile]
	calibrated     atomic.Bool
	serialMismatch atomic.Bool
	snapshot       atomic.Pointer[Snapshot]
	state          atomic.Uint32

	active        atomic.Bool
	systemError   atomic.Bool
	overloadError atomic.Bool
	misses        atomic.Uint64

	outcomeMu   sync.Mutex
	lastOutcome Outcome
}

// Create a driver, nothing is opened until Connect
func New(transport Transport, cfg config.SensorConfig) *Driver {
	return &Driver{
		cfg:       cfg,
		transport: transport,
		tracker:   protocol.NewTracker(),
	}
}

// Open the CAN channel and start answering DoComm calls.
// A calibration file given in the configuration is loaded on first connect,
// if it can't be loaded the driver runs in raw mode.
// Returns false if the channel could not be opened.
func (d *Driver) Connect(channel string) bool {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.active.Load() {
		return true
	}
	if err := d.transport.Open(channel); err != nil {
		log.Errorf("[FTL] failed to open %v : %v", channel, err)
		return false
	}

	if d.profile.Load() == nil {
		if d.cfg.CalibrationFile != "" {
			profile, err := calibration.Load(d.cfg.CalibrationFile)
			if err != nil {
				log.Warnf("[FTL] could not load calibration, running in raw mode : %v", err)
			} else {
				d.setProfile(profile, true)
			}
		}
		if d.profile.Load() == nil {
			log.Warnf("[FTL] no calibration loaded, readings are raw counts")
			d.setProfile(calibration.Identity(0), false)
		}
	}

	d.exchange.Lock()
	d.tracker.Reset()
	d.bias.restart(d.biasSamples())
	d.state.Store(uint32(StateIdle))
	d.exchange.Unlock()

	d.systemError.Store(false)
	d.overloadError.Store(false)
	d.active.Store(true)
	log.Infof("[FTL] connected to sensor x%x on %v", d.cfg.CanID, channel)
	return true
}

// Stop the driver and release the CAN channel. A DoComm blocked in a read
// is released by closing the channel. Calling it again is a no-op.
func (d *Driver) Disconnect() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if !d.active.Swap(false) {
		return
	}
	if err := d.transport.Close(); err != nil {
		log.Warnf("[FTL] error closing transport : %v", err)
	}
	log.Infof("[FTL] disconnected from sensor x%x", d.cfg.CanID)
}

// Run one request / reply cycle. Failures are reported in the returned
// outcome and in the error flags, the last good reading is kept.
func (d *Driver) DoComm() Outcome {
	d.exchange.Lock()
	defer d.exchange.Unlock()
	outcome := d.doComm()
	d.state.Store(uint32(StateIdle))
	d.outcomeMu.Lock()
	d.lastOutcome = outcome
	d.outcomeMu.Unlock()
	return outcome
}

func (d *Driver) doComm() Outcome {
	if !d.active.Load() {
		return Outcome{Kind: OutcomeInactive, Err: ftl.ErrInvalidState}
	}

	counter := d.tracker.Next()
	if err := d.transport.Write(protocol.EncodeRequest(d.cfg.CanID, counter)); err != nil {
		// Disconnected while sending
		if !d.active.Load() {
			return Outcome{Kind: OutcomeClosed, Counter: counter, Err: err}
		}
		return d.fail(OutcomeIOError, counter, fmt.Errorf("send request : %w", err))
	}
	d.state.Store(uint32(StateRequestSent))

	buffer := newAssembly(counter)
	stale := 0
	deadline := time.Now().Add(d.cfg.ReadTimeout)
	d.state.Store(uint32(buffer.state()))

	for !buffer.complete() {
		var frame ftl.Frame
		var err error
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err = ftl.ErrTimeout
		} else {
			frame, err = d.transport.Read(remaining)
		}

		switch {
		case err == nil:
		case !d.active.Load() || errors.Is(err, ftl.ErrClosed):
			return Outcome{Kind: OutcomeClosed, Counter: counter, Err: err}
		case errors.Is(err, ftl.ErrTimeout) && stale > 0 && buffer.empty():
			log.Warnf("[FTL] only stale replies received for counter %v", counter)
			return Outcome{Kind: OutcomeSequenceMismatch, Counter: counter, Err: err}
		case errors.Is(err, ftl.ErrTimeout):
			return d.fail(OutcomeTimeout, counter, fmt.Errorf("no %v after %v : %w", buffer.state(), d.cfg.ReadTimeout, err))
		default:
			return d.fail(OutcomeIOError, counter, fmt.Errorf("read reply : %w", err))
		}

		part, err := protocol.DecodeReply(d.cfg.CanID, frame)
		if err != nil {
			log.Debugf("[FTL] discarding %v : %v", frame, err)
			continue
		}
		if !d.tracker.Validate(part.Counter) {
			stale++
			d.misses.Add(1)
			log.Debugf("[FTL] discarding %v half with counter %v, expecting %v", part.Half, part.Counter, counter)
			continue
		}
		if !buffer.add(part) {
			log.Debugf("[FTL] discarding duplicate %v half for counter %v", part.Half, counter)
			continue
		}
		d.state.Store(uint32(buffer.state()))
	}

	return Outcome{Kind: OutcomeSuccess, Counter: counter, Reading: d.complete(buffer.reading())}
}

// Fold a complete reading into flags, bias and calibrated values
func (d *Driver) complete(reading SensorReading) *Snapshot {
	d.systemError.Store(reading.Status.Fault())
	if reading.Status.Fault() {
		log.Warnf("[FTL] sensor reports a fault, status %v", reading.Status)
	}
	d.overloadError.Store(reading.Status.Overload())
	if reading.Status.Overload() {
		log.Warnf("[FTL] sensor overload, status %v", reading.Status)
	}

	if d.cfg.ApplyBias && d.bias.add(reading.Raw) {
		log.Infof("[FTL] bias acquired over %v samples : %v", d.cfg.BiasSamples, d.bias.value())
	}
	bias := d.currentBias()
	snapshot := &Snapshot{
		SensorReading: reading,
		XYZ:           calibration.Apply(reading.Raw, d.profile.Load(), bias),
		Bias:          bias,
		Timestamp:     time.Now(),
	}
	d.snapshot.Store(snapshot)
	return snapshot
}

func (d *Driver) fail(kind OutcomeKind, counter uint8, err error) Outcome {
	d.systemError.Store(true)
	log.Warnf("[FTL] cycle %v failed : %v", counter, err)
	return Outcome{Kind: kind, Counter: counter, Err: err}
}

func (d *Driver) biasSamples() int {
	if !d.cfg.ApplyBias {
		return 0
	}
	return d.cfg.BiasSamples
}

func (d *Driver) currentBias() [calibration.Axes]float64 {
	if !d.cfg.ApplyBias {
		return [calibration.Axes]float64{}
	}
	return d.bias.value()
}

// Load a calibration file and use it from the next cycle on
func (d *Driver) LoadCalibration(path string) error {
	profile, err := calibration.Load(path)
	if err != nil {
		return err
	}
	return d.SetProfile(profile)
}

// Use the given calibration from the next cycle on
func (d *Driver) SetProfile(profile *calibration.Profile) error {
	if profile == nil {
		return ftl.ErrIllegalArgument
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	d.setProfile(profile, true)
	return nil
}

func (d *Driver) setProfile(profile *calibration.Profile, calibrated bool) {
	mismatch := calibrated && d.cfg.Serial != 0 && profile.Serial != d.cfg.Serial
	if mismatch {
		log.Warnf("[FTL] calibration is for serial %v, expected %v", profile.Serial, d.cfg.Serial)
	}
	if profile.HasBias {
		d.bias.setBase(profile.Bias)
	} else {
		d.bias.setBase([calibration.Axes]float64{})
	}
	d.serialMismatch.Store(mismatch)
	d.calibrated.Store(calibrated)
	d.profile.Store(profile)
}

// Use the last raw reading as bias from now on
func (d *Driver) Tare() error {
	snapshot := d.snapshot.Load()
	if snapshot == nil {
		return fmt.Errorf("no reading to tare : %w", ftl.ErrInvalidState)
	}
	d.bias.tare(snapshot.Raw)
	log.Infof("[FTL] tared, bias %v", snapshot.Raw)
	return nil
}

// Last published reading, false if no cycle succeeded yet
func (d *Driver) Reading() (Snapshot, bool) {
	snapshot := d.snapshot.Load()
	if snapshot == nil {
		return Snapshot{}, false
	}
	return *snapshot, true
}

// Calibrated force (N) and torque values of the last reading
func (d *Driver) XYZ() calibration.Reading {
	snapshot, _ := d.Reading()
	return snapshot.XYZ
}

// Raw counts of the last reading
func (d *Driver) Raw() [calibration.Axes]float64 {
	snapshot, _ := d.Reading()
	return snapshot.Raw
}

// Temperature of the last reading in degree Celsius
func (d *Driver) Temperature() float64 {
	snapshot, _ := d.Reading()
	return snapshot.Temperature
}

func (d *Driver) Active() bool        { return d.active.Load() }
func (d *Driver) SystemError() bool   { return d.systemError.Load() }
func (d *Driver) OverloadError() bool { return d.overloadError.Load() }

// Communication state, Idle outside of DoComm
func (d *Driver) State() State { return State(d.state.Load()) }

// Number of reply frames discarded because of a wrong counter
func (d *Driver) Misses() uint64 { return d.misses.Load() }

func (d *Driver) LastSent() uint8     { return d.tracker.Last() }
func (d *Driver) LastReceived() uint8 { return d.tracker.Received() }

func (d *Driver) LastOutcome() Outcome {
	d.outcomeMu.Lock()
	defer d.outcomeMu.Unlock()
	return d.lastOutcome
}

// True when a calibration file is used, false in raw mode
func (d *Driver) Calibrated() bool { return d.calibrated.Load() }

// True when the calibration serial differs from the configured one
func (d *Driver) SerialMismatch() bool { return d.serialMismatch.Load() }

// Serial number of the calibration in use, 0 in raw mode
func (d *Driver) CalibrationSerial() int {
	if profile := d.profile.Load(); profile != nil {
		return profile.Serial
	}
	return 0
}

// True while startup bias acquisition is running
func (d *Driver) AcquiringBias() bool { return d.cfg.ApplyBias && d.bias.acquiring() }

// Bias applied to the next reading
func (d *Driver) Bias() [calibration.Axes]float64 { return d.currentBias() }
