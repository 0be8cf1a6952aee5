package sensor

import (
	"time"

	"github.com/ftsensor/goftl/pkg/calibration"
	"github.com/ftsensor/goftl/pkg/protocol"
)

// Raw content of one complete reply, assembled from both halves
type SensorReading struct {
	Counter     uint8
	Raw         [calibration.Axes]float64
	Temperature float64
	Status      protocol.Status
}

// Result of a successful cycle, published as a whole
type Snapshot struct {
	SensorReading
	XYZ       calibration.Reading
	Bias      [calibration.Axes]float64
	Timestamp time.Time
}
