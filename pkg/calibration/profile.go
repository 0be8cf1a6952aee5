package calibration

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrCalibrationFormat = errors.New("invalid calibration file")
	ErrDimension         = errors.New("calibration matrix must be 6x6")
)

const Axes = 6

// Axis names in matrix row order
var AxisNames = [Axes]string{"Fx", "Fy", "Fz", "Tx", "Ty", "Tz"}

// Profile is the per unit calibration of a sensor, read only once loaded
type Profile struct {
	// Row major, row i gives calibrated axis i from the six raw channels
	Matrix  [Axes * Axes]float64
	Serial  int
	Bias    [Axes]float64
	HasBias bool
	// File the profile was loaded from, empty for built-in profiles
	Source string
}

// Identity profile, calibrated values equal the bias corrected raw counts
func Identity(serial int) *Profile {
	p := &Profile{Serial: serial}
	for i := 0; i < Axes; i++ {
		p.Matrix[i*Axes+i] = 1
	}
	return p
}

// Build a profile from the matrix rows
func NewProfile(serial int, rows [][]float64) (*Profile, error) {
	if len(rows) != Axes {
		return nil, fmt.Errorf("%w : got %v rows", ErrDimension, len(rows))
	}
	p := &Profile{Serial: serial}
	for i, row := range rows {
		if len(row) != Axes {
			return nil, fmt.Errorf("%w : row %v has %v values", ErrDimension, i, len(row))
		}
		copy(p.Matrix[i*Axes:(i+1)*Axes], row)
	}
	return p, p.Validate()
}

// Set the default bias of the profile
func (p *Profile) SetBias(bias []float64) error {
	if len(bias) != Axes {
		return fmt.Errorf("%w : bias has %v values", ErrDimension, len(bias))
	}
	copy(p.Bias[:], bias)
	p.HasBias = true
	return nil
}

// Coefficient at row i column j
func (p *Profile) At(i, j int) float64 {
	return p.Matrix[i*Axes+j]
}

// Check that every coefficient is a finite number
func (p *Profile) Validate() error {
	for k, v := range p.Matrix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w : coefficient [%v][%v] is %v", ErrCalibrationFormat, k/Axes, k%Axes, v)
		}
	}
	for k, v := range p.Bias {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w : bias %v is %v", ErrCalibrationFormat, k, v)
		}
	}
	return nil
}
