package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadXML(t *testing.T) {
	profile, err := Load("testdata/FT12345.xml")
	require.Nil(t, err)
	assert.Equal(t, 12345, profile.Serial)
	assert.Equal(t, "testdata/FT12345.xml", profile.Source)
	assert.Equal(t, 0.25, profile.At(2, 2))
	assert.Equal(t, 0.1, profile.At(5, 0))
	assert.Equal(t, 0.02, profile.At(5, 5))
	assert.True(t, profile.HasBias)
	assert.Equal(t, [Axes]float64{10, -10, 0, 0, 5, 0}, profile.Bias)
}

func TestLoadINI(t *testing.T) {
	profile, err := Load("testdata/FT777.ini")
	require.Nil(t, err)
	assert.Equal(t, 777, profile.Serial)
	assert.False(t, profile.HasBias)
	for i := 0; i < Axes; i++ {
		assert.Equal(t, float64(i+1), profile.At(i, i))
	}
}

func TestParseINIWithBias(t *testing.T) {
	raw := []byte(`
[sensor]
serial = 42
[matrix]
row0 = 1 0 0 0 0 0
row1 = 0 1 0 0 0 0
row2 = 0 0 1 0 0 0
row3 = 0 0 0 1 0 0
row4 = 0 0 0 0 1 0
row5 = 0 0 0 0 0 1
[bias]
values = 1 2 3 4 5 6
`)
	profile, err := ParseINI(raw)
	require.Nil(t, err)
	assert.Equal(t, 42, profile.Serial)
	assert.True(t, profile.HasBias)
	assert.Equal(t, [Axes]float64{1, 2, 3, 4, 5, 6}, profile.Bias)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load("testdata/none.xml")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load("testdata/FT12345.json")
		assert.ErrorIs(t, err, ErrCalibrationFormat)
	})
	t.Run("wrong dimensions", func(t *testing.T) {
		_, err := Load("testdata/short.xml")
		assert.ErrorIs(t, err, ErrDimension)
	})
	t.Run("not xml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.xml")
		require.Nil(t, os.WriteFile(path, []byte("<FTSensor Serial="), 0644))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrCalibrationFormat)
	})
	t.Run("bad value", func(t *testing.T) {
		_, err := ParseXML([]byte(`<FTSensor Serial="1"><Calibration><Axis values="1 x"/></Calibration></FTSensor>`))
		assert.ErrorIs(t, err, ErrCalibrationFormat)
	})
	t.Run("missing serial", func(t *testing.T) {
		_, err := ParseXML([]byte(`<FTSensor><Calibration></Calibration></FTSensor>`))
		assert.ErrorIs(t, err, ErrCalibrationFormat)
	})
	t.Run("missing ini row", func(t *testing.T) {
		_, err := ParseINI([]byte("[sensor]\nserial=1\n[matrix]\nrow0=1 0 0 0 0 0\n"))
		assert.ErrorIs(t, err, ErrDimension)
	})
}

func TestParseSerial(t *testing.T) {
	for input, expected := range map[string]int{"FT12345": 12345, " 77 ": 77, "FTL-0042": 42} {
		serial, err := parseSerial(input)
		assert.Nil(t, err, input)
		assert.Equal(t, expected, serial, input)
	}
	_, err := parseSerial("FTL")
	assert.ErrorIs(t, err, ErrCalibrationFormat)
}
