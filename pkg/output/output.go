package output

import "github.com/ftsensor/goftl/pkg/sensor"

// Destination for sensor readings, implements sensor.Sink
type Output interface {
	Publish(snapshot sensor.Snapshot) error
	Close() error
}

// helper constructors are in subpackages
