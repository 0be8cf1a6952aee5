package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	can "github.com/ftsensor/goftl/pkg/can"
	_ "github.com/ftsensor/goftl/pkg/can/loopback"
	_ "github.com/ftsensor/goftl/pkg/can/socketcan"
	_ "github.com/ftsensor/goftl/pkg/can/virtual"
	"github.com/ftsensor/goftl/pkg/config"
	"github.com/ftsensor/goftl/pkg/output"
	"github.com/ftsensor/goftl/pkg/output/console"
	"github.com/ftsensor/goftl/pkg/output/mqtt"
	"github.com/ftsensor/goftl/pkg/protocol"
	"github.com/ftsensor/goftl/pkg/sensor"
	"github.com/ftsensor/goftl/pkg/simulator"
	"github.com/ftsensor/goftl/pkg/transport"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const simulatedChannel = "ftl-simulated"

// Read the configuration file then apply the flags that were set explicitly
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	flags := cmd.Flags()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if flags.Changed("interface") {
		cfg.Bus.Interface, _ = flags.GetString("interface")
	}
	if flags.Changed("channel") {
		cfg.Bus.Channel, _ = flags.GetString("channel")
	}
	if flags.Changed("can-id") {
		cfg.Sensor.CanID, _ = flags.GetUint32("can-id")
	}
	if flags.Changed("serial") {
		cfg.Sensor.Serial, _ = flags.GetInt("serial")
	}
	if flags.Changed("calibration") {
		cfg.Sensor.CalibrationFile, _ = flags.GetString("calibration")
	}
	if flags.Changed("apply-bias") {
		cfg.Sensor.ApplyBias, _ = flags.GetBool("apply-bias")
	}
	if flags.Changed("bias-samples") {
		cfg.Sensor.BiasSamples, _ = flags.GetInt("bias-samples")
	}
	if flags.Changed("read-timeout") {
		cfg.Sensor.ReadTimeout, _ = flags.GetDuration("read-timeout")
	}
	if flags.Changed("period") {
		cfg.Sensor.PollPeriod, _ = flags.GetDuration("period")
	}
	if flags.Changed("quiet") {
		quiet, _ := flags.GetBool("quiet")
		cfg.Output.Console = !quiet
	}
	if flags.Changed("mqtt-server") {
		cfg.Output.MQTTServer, _ = flags.GetString("mqtt-server")
	}
	if flags.Changed("mqtt-topic") {
		cfg.Output.MQTTTopic, _ = flags.GetString("mqtt-topic")
	}
	if simulate, _ := flags.GetBool("simulate"); simulate {
		cfg.Bus.Interface = "loopback"
		cfg.Bus.Channel = simulatedChannel
	}
	return cfg, cfg.Validate()
}

// Start a simulated sensor on the loopback channel the driver will open
func startSimulator(cfg config.Config) (func(), error) {
	bus, err := can.NewBus("loopback", cfg.Bus.Channel)
	if err != nil {
		return nil, err
	}
	if err := bus.Connect(); err != nil {
		return nil, err
	}
	sim := simulator.New(bus, cfg.Sensor.CanID)
	sim.SetChannels([6]int16{120, -80, 2400, 15, -12, 3})
	if err := sim.Start(); err != nil {
		_ = bus.Disconnect()
		return nil, err
	}
	log.Infof("[SIM] simulated sensor answering on x%x", cfg.Sensor.CanID)
	return func() { _ = bus.Disconnect() }, nil
}

func openOutputs(cfg config.Config) ([]output.Output, error) {
	outputs := []output.Output{}
	if cfg.Output.Console {
		outputs = append(outputs, console.NewConsole())
	}
	if cfg.Output.MQTTServer != "" {
		out, err := mqtt.NewMQTT(cfg.Output)
		if err != nil {
			for _, o := range outputs {
				_ = o.Close()
			}
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func run(cmd *cobra.Command, args []string) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if simulate, _ := cmd.Flags().GetBool("simulate"); simulate {
		stop, err := startSimulator(cfg)
		if err != nil {
			return err
		}
		defer stop()
	}

	outputs, err := openOutputs(cfg)
	if err != nil {
		return err
	}
	sinks := make([]sensor.Sink, 0, len(outputs))
	for _, o := range outputs {
		defer o.Close()
		sinks = append(sinks, o)
	}

	adapter := transport.New(cfg.Bus.Interface,
		cfg.Sensor.CanID+protocol.FirstHalfOffset,
		cfg.Sensor.CanID+protocol.SecondHalfOffset)
	driver := sensor.New(adapter, cfg.Sensor)
	if !driver.Connect(cfg.Bus.Channel) {
		return fmt.Errorf("could not connect to %v channel %v", cfg.Bus.Interface, cfg.Bus.Channel)
	}
	defer driver.Disconnect()
	if driver.SerialMismatch() {
		log.Warnf("[FTL] calibration serial %v does not match sensor serial %v", driver.CalibrationSerial(), cfg.Sensor.Serial)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poller := sensor.NewPoller(driver, cfg.Sensor.PollPeriod, sinks...)
	poller.Cycles, _ = cmd.Flags().GetInt("count")
	stats, err := poller.Run(ctx)
	log.Infof("[FTL] %v cycles, %v readings, failures %v, %v stale frames",
		stats.Cycles, stats.Successes, stats.Failures, driver.Misses())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:           "ftl",
	Short:         "Read a Schunk FTL force / torque sensor over CAN",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "configuration file path (ini)")
	flags.StringP("interface", "i", defaults.Bus.Interface, "can interface type, one of "+strings.Join(can.AvailableInterfaces(), ","))
	flags.StringP("channel", "n", defaults.Bus.Channel, "can channel e.g. can0, vcan0, localhost:18000")
	flags.Uint32("can-id", defaults.Sensor.CanID, "sensor base identifier")
	flags.Bool("debug", false, "toggle debug logging")

	flags = rootCmd.Flags()
	flags.Int("serial", defaults.Sensor.Serial, "expected sensor serial number, 0 to skip the check")
	flags.StringP("calibration", "f", "", "calibration file (xml or ini)")
	flags.Bool("apply-bias", defaults.Sensor.ApplyBias, "subtract the bias from raw readings")
	flags.Int("bias-samples", defaults.Sensor.BiasSamples, "average this many readings after connecting as bias")
	flags.Duration("read-timeout", defaults.Sensor.ReadTimeout, "maximum duration of one request / reply cycle")
	flags.DurationP("period", "p", defaults.Sensor.PollPeriod, "polling period")
	flags.Int("count", 0, "stop after this many cycles, 0 runs until interrupted")
	flags.BoolP("quiet", "q", false, "do not print readings")
	flags.String("mqtt-server", "", "publish readings to this broker e.g. tcp://localhost:1883")
	flags.String("mqtt-topic", defaults.Output.MQTTTopic, "mqtt topic")
	flags.Bool("simulate", false, "run against a simulated sensor on a loopback bus")

	rootCmd.AddCommand(simCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
