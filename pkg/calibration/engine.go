package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Calibrated reading, translation (Fx, Fy, Fz) then rotation (Tx, Ty, Tz)
type Reading [Axes]float64

func (r Reading) Force() [3]float64  { return [3]float64{r[0], r[1], r[2]} }
func (r Reading) Torque() [3]float64 { return [3]float64{r[3], r[4], r[5]} }

func (r Reading) String() string {
	return fmt.Sprintf("Fx=%.4f Fy=%.4f Fz=%.4f Tx=%.4f Ty=%.4f Tz=%.4f", r[0], r[1], r[2], r[3], r[4], r[5])
}

// Apply the calibration matrix to the bias corrected raw channels :
// out[i] = sum_j M[i][j] * (raw[j] - bias[j])
// No clamping is done, overloaded readings are passed through.
func Apply(raw [Axes]float64, profile *Profile, bias [Axes]float64) Reading {
	corrected := make([]float64, Axes)
	for j := range corrected {
		corrected[j] = raw[j] - bias[j]
	}
	m := mat.NewDense(Axes, Axes, profile.Matrix[:])
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(Axes, corrected))

	var reading Reading
	for i := range reading {
		reading[i] = out.AtVec(i)
	}
	return reading
}

// Convert signed raw counts to floating point
func RawToFloat(counts [Axes]int16) [Axes]float64 {
	var raw [Axes]float64
	for i, c := range counts {
		raw[i] = float64(c)
	}
	return raw
}
