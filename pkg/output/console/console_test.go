package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/ftsensor/goftl/pkg/calibration"
	"github.com/ftsensor/goftl/pkg/protocol"
	"github.com/ftsensor/goftl/pkg/sensor"
	"github.com/stretchr/testify/assert"
)

func TestConsolePublish(t *testing.T) {
	var buf bytes.Buffer
	c := NewWriter(&buf)
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	snapshot := sensor.Snapshot{
		SensorReading: sensor.SensorReading{Counter: 12, Temperature: 31},
		XYZ:           calibration.Reading{1, 2, 3, 0.5, 0.25, -1},
		Timestamp:     ts,
	}
	assert.Nil(t, c.Publish(snapshot))
	want := "2025-09-19T14:41:54Z counter=12 Fx=1.0000 Fy=2.0000 Fz=3.0000 Tx=0.5000 Ty=0.2500 Tz=-1.0000 temp=31\n"
	assert.Equal(t, want, buf.String())

	buf.Reset()
	snapshot.Status = protocol.StatusOverload
	assert.Nil(t, c.Publish(snapshot))
	assert.Contains(t, buf.String(), "status=x01(overload=true,fault=false)")
	assert.Nil(t, c.Close())
}
