// Package config holds the driver configuration, read from an INI file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ftsensor/goftl/pkg/protocol"
	"gopkg.in/ini.v1"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultInterface    = "socketcan"
	DefaultChannel      = "can0"
	DefaultReadTimeout  = 20 * time.Millisecond
	DefaultPollPeriod   = 5 * time.Millisecond
	DefaultMQTTTopic    = "ftl/reading"
	DefaultMQTTClientID = "goftl"
)

type BusConfig struct {
	Interface string
	Channel   string
}

type SensorConfig struct {
	CanID uint32
	// Expected serial number of the calibration file, 0 disables the check
	Serial          int
	ReadTimeout     time.Duration
	PollPeriod      time.Duration
	ApplyBias       bool
	BiasSamples     int
	CalibrationFile string
}

type OutputConfig struct {
	Console      bool
	MQTTServer   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

type Config struct {
	Bus    BusConfig
	Sensor SensorConfig
	Output OutputConfig
}

// Default configuration, matches the sensor factory settings
func Default() Config {
	return Config{
		Bus: BusConfig{
			Interface: DefaultInterface,
			Channel:   DefaultChannel,
		},
		Sensor: SensorConfig{
			CanID:       protocol.DefaultBaseID,
			ReadTimeout: DefaultReadTimeout,
			PollPeriod:  DefaultPollPeriod,
			ApplyBias:   true,
		},
		Output: OutputConfig{
			Console:      true,
			MQTTTopic:    DefaultMQTTTopic,
			MQTTClientID: DefaultMQTTClientID,
		},
	}
}

// Load a configuration file on top of the defaults,
// file can be either a path or []byte
func Load(file any) (Config, error) {
	cfg := Default()
	f, err := ini.Load(file)
	if err != nil {
		return cfg, fmt.Errorf("%w : %v", ErrInvalidConfig, err)
	}

	bus := f.Section("bus")
	cfg.Bus.Interface = bus.Key("interface").MustString(cfg.Bus.Interface)
	cfg.Bus.Channel = bus.Key("channel").MustString(cfg.Bus.Channel)

	sensor := f.Section("sensor")
	if sensor.HasKey("can_id") {
		// Accepts decimal or 0x prefixed values
		canID, err := sensor.Key("can_id").Uint64()
		if err != nil {
			return cfg, fmt.Errorf("%w : can_id : %v", ErrInvalidConfig, err)
		}
		cfg.Sensor.CanID = uint32(canID)
	}
	cfg.Sensor.Serial = sensor.Key("serial").MustInt(cfg.Sensor.Serial)
	cfg.Sensor.ReadTimeout = sensor.Key("read_timeout").MustDuration(cfg.Sensor.ReadTimeout)
	cfg.Sensor.PollPeriod = sensor.Key("poll_period").MustDuration(cfg.Sensor.PollPeriod)
	cfg.Sensor.ApplyBias = sensor.Key("apply_bias").MustBool(cfg.Sensor.ApplyBias)
	cfg.Sensor.BiasSamples = sensor.Key("bias_samples").MustInt(cfg.Sensor.BiasSamples)
	cfg.Sensor.CalibrationFile = sensor.Key("calibration").MustString(cfg.Sensor.CalibrationFile)

	output := f.Section("output")
	cfg.Output.Console = output.Key("console").MustBool(cfg.Output.Console)
	cfg.Output.MQTTServer = output.Key("mqtt_server").MustString(cfg.Output.MQTTServer)
	cfg.Output.MQTTTopic = output.Key("mqtt_topic").MustString(cfg.Output.MQTTTopic)
	cfg.Output.MQTTClientID = output.Key("mqtt_client_id").MustString(cfg.Output.MQTTClientID)
	cfg.Output.MQTTUsername = output.Key("mqtt_username").MustString(cfg.Output.MQTTUsername)
	cfg.Output.MQTTPassword = output.Key("mqtt_password").MustString(cfg.Output.MQTTPassword)

	return cfg, cfg.Validate()
}

// Check value ranges
func (cfg Config) Validate() error {
	if cfg.Bus.Interface == "" {
		return fmt.Errorf("%w : empty bus interface", ErrInvalidConfig)
	}
	if cfg.Sensor.CanID > protocol.MaxBaseID {
		return fmt.Errorf("%w : can_id x%x leaves no room for reply identifiers (max x%x)", ErrInvalidConfig, cfg.Sensor.CanID, protocol.MaxBaseID)
	}
	if cfg.Sensor.ReadTimeout <= 0 {
		return fmt.Errorf("%w : read_timeout must be > 0", ErrInvalidConfig)
	}
	if cfg.Sensor.PollPeriod <= 0 {
		return fmt.Errorf("%w : poll_period must be > 0", ErrInvalidConfig)
	}
	if cfg.Sensor.BiasSamples < 0 {
		return fmt.Errorf("%w : bias_samples must be >= 0", ErrInvalidConfig)
	}
	return nil
}
