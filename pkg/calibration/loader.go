package calibration

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Vendor calibration file as shipped with the sensor
type xmlSensor struct {
	XMLName     xml.Name       `xml:"FTSensor"`
	Serial      string         `xml:"Serial,attr"`
	Calibration xmlCalibration `xml:"Calibration"`
}

type xmlCalibration struct {
	Axes []xmlValues `xml:"Axis"`
	Bias *xmlValues  `xml:"Bias"`
}

type xmlValues struct {
	Name   string `xml:"Name,attr"`
	Values string `xml:"values,attr"`
}

// Load a calibration file, the format is chosen from the extension :
// .xml for vendor files, .ini or .cal for INI files
func Load(path string) (*Profile, error) {
	var profile *Profile
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		var raw []byte
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		profile, err = ParseXML(raw)
	case ".ini", ".cal":
		profile, err = ParseINI(path)
	default:
		return nil, fmt.Errorf("%w : unsupported extension %q", ErrCalibrationFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%v : %w", path, err)
	}
	profile.Source = path
	log.Infof("[CALIB] loaded calibration for sensor serial %v from %v", profile.Serial, path)
	return profile, nil
}

// Parse a vendor XML calibration file
func ParseXML(raw []byte) (*Profile, error) {
	var sensor xmlSensor
	if err := xml.Unmarshal(raw, &sensor); err != nil {
		return nil, fmt.Errorf("%w : %v", ErrCalibrationFormat, err)
	}
	serial, err := parseSerial(sensor.Serial)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, 0, Axes)
	for i, axis := range sensor.Calibration.Axes {
		if i < Axes && axis.Name != "" && !strings.EqualFold(axis.Name, AxisNames[i]) {
			log.Warnf("[CALIB] axis %v is named %v, expected %v", i, axis.Name, AxisNames[i])
		}
		row, err := parseFloats(axis.Values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	profile, err := NewProfile(serial, rows)
	if err != nil {
		return nil, err
	}
	if sensor.Calibration.Bias != nil {
		bias, err := parseFloats(sensor.Calibration.Bias.Values)
		if err != nil {
			return nil, err
		}
		if err := profile.SetBias(bias); err != nil {
			return nil, err
		}
	}
	return profile, profile.Validate()
}

// Parse an INI calibration file, file can be a path or []byte
func ParseINI(file any) (*Profile, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrCalibrationFormat, err)
	}
	serial, err := parseSerial(cfg.Section("sensor").Key("serial").String())
	if err != nil {
		return nil, err
	}
	matrix := cfg.Section("matrix")
	rows := make([][]float64, 0, Axes)
	for i := 0; i < Axes; i++ {
		key := fmt.Sprintf("row%d", i)
		if !matrix.HasKey(key) {
			return nil, fmt.Errorf("%w : missing [matrix] %v", ErrDimension, key)
		}
		row, err := parseFloats(matrix.Key(key).String())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	profile, err := NewProfile(serial, rows)
	if err != nil {
		return nil, err
	}
	if section, err := cfg.GetSection("bias"); err == nil && section.HasKey("values") {
		bias, err := parseFloats(section.Key("values").String())
		if err != nil {
			return nil, err
		}
		if err := profile.SetBias(bias); err != nil {
			return nil, err
		}
	}
	return profile, profile.Validate()
}

// Serial numbers look like "FT12345" or "12345", the trailing digits are kept
func parseSerial(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, fmt.Errorf("%w : invalid serial number %q", ErrCalibrationFormat, s)
	}
	serial, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0, fmt.Errorf("%w : invalid serial number %q", ErrCalibrationFormat, s)
	}
	return serial, nil
}

// Values are separated by spaces and / or commas
func parseFloats(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("%w : invalid value %q", ErrCalibrationFormat, field)
		}
		values = append(values, v)
	}
	return values, nil
}
