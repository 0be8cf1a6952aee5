package sensor_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/ftsensor/goftl/pkg/can"
	_ "github.com/ftsensor/goftl/pkg/can/loopback"
	"github.com/ftsensor/goftl/pkg/config"
	"github.com/ftsensor/goftl/pkg/protocol"
	"github.com/ftsensor/goftl/pkg/sensor"
	"github.com/ftsensor/goftl/pkg/simulator"
	"github.com/ftsensor/goftl/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Driver and simulated sensor on a loopback bus, as with --simulate
func setupSimulated(t *testing.T, baseID uint32) (*sensor.Driver, *simulator.Sensor) {
	channel := fmt.Sprintf("%s-%d", t.Name(), baseID)
	bus, err := can.NewBus("loopback", channel)
	require.Nil(t, err)
	require.Nil(t, bus.Connect())
	t.Cleanup(func() { _ = bus.Disconnect() })
	sim := simulator.New(bus, baseID)
	require.Nil(t, sim.Start())

	cfg := config.Default().Sensor
	cfg.CanID = baseID
	cfg.ReadTimeout = 100 * time.Millisecond
	adapter := transport.New("loopback", baseID+protocol.FirstHalfOffset, baseID+protocol.SecondHalfOffset)
	driver := sensor.New(adapter, cfg)
	require.True(t, driver.Connect(channel))
	t.Cleanup(driver.Disconnect)
	return driver, sim
}

func TestSimulatedSensor(t *testing.T) {
	driver, sim := setupSimulated(t, protocol.DefaultBaseID)
	sim.SetChannels([6]int16{100, -100, 2000, -3, 4, 32767})
	sim.SetTemperature(41)

	for i := 1; i <= 3; i++ {
		outcome := driver.DoComm()
		require.True(t, outcome.Ok(), outcome.String())
		assert.EqualValues(t, i, outcome.Counter)
	}
	snapshot, ok := driver.Reading()
	require.True(t, ok)
	assert.Equal(t, [6]float64{100, -100, 2000, -3, 4, 32767}, snapshot.Raw)
	assert.Equal(t, 41.0, snapshot.Temperature)
	assert.Equal(t, 3, sim.Requests())
	assert.EqualValues(t, 3, driver.LastReceived())
}

func TestSimulatedFaults(t *testing.T) {
	driver, sim := setupSimulated(t, 0x200)
	sim.SetChannels([6]int16{1, 1, 1, 1, 1, 1})
	require.True(t, driver.DoComm().Ok())

	sim.SetSilent(true)
	assert.Equal(t, sensor.OutcomeTimeout, driver.DoComm().Kind)
	assert.True(t, driver.SystemError())

	sim.SetSilent(false)
	sim.SetDrop(false, true)
	assert.Equal(t, sensor.OutcomeTimeout, driver.DoComm().Kind)

	sim.SetDrop(false, false)
	sim.SetCounterSkew(5)
	assert.Equal(t, sensor.OutcomeSequenceMismatch, driver.DoComm().Kind)
	assert.EqualValues(t, 2, driver.Misses())

	sim.SetCounterSkew(0)
	sim.SetSwapHalves(true)
	sim.SetStatus(protocol.StatusOverload)
	sim.SetChannels([6]int16{2, 2, 2, 2, 2, 2})
	require.True(t, driver.DoComm().Ok())
	assert.False(t, driver.SystemError())
	assert.True(t, driver.OverloadError())
	assert.Equal(t, [6]float64{2, 2, 2, 2, 2, 2}, driver.Raw())
}

func TestSimulatedCounterWraps(t *testing.T) {
	driver, _ := setupSimulated(t, protocol.DefaultBaseID)
	for i := 0; i < 300; i++ {
		require.True(t, driver.DoComm().Ok())
	}
	assert.EqualValues(t, 300%256, driver.LastSent())
	assert.EqualValues(t, 0, driver.Misses())
}
