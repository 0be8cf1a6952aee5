package sensor

import (
	"sync"

	"github.com/ftsensor/goftl/pkg/calibration"
)

// Bias subtracted from raw readings. Starts from the calibration profile
// default, can be replaced by an average of the first readings after
// connecting or by a tare.
type biasEstimator struct {
	mu       sync.Mutex
	base     [calibration.Axes]float64
	override *[calibration.Axes]float64
	samples  int
	count    int
	sum      [calibration.Axes]float64
}

// Restart startup acquisition over the given number of samples,
// also drops any previous tare
func (b *biasEstimator) restart(samples int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = samples
	b.count = 0
	b.sum = [calibration.Axes]float64{}
	b.override = nil
}

func (b *biasEstimator) setBase(bias [calibration.Axes]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = bias
}

// Feed a raw reading, returns true when it completed startup acquisition
func (b *biasEstimator) add(raw [calibration.Axes]float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count >= b.samples {
		return false
	}
	for i, v := range raw {
		b.sum[i] += v
	}
	b.count++
	if b.count < b.samples {
		return false
	}
	var mean [calibration.Axes]float64
	for i := range mean {
		mean[i] = b.sum[i] / float64(b.count)
	}
	b.override = &mean
	return true
}

func (b *biasEstimator) acquiring() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count < b.samples
}

func (b *biasEstimator) tare(raw [calibration.Axes]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = b.samples
	b.override = &raw
}

func (b *biasEstimator) value() [calibration.Axes]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.override != nil {
		return *b.override
	}
	return b.base
}
