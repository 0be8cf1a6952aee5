package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	can "github.com/ftsensor/goftl/pkg/can"
	"github.com/ftsensor/goftl/pkg/protocol"
	"github.com/ftsensor/goftl/pkg/simulator"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Six comma separated raw channel values
func parseChannels(s string) ([6]int16, error) {
	var channels [6]int16
	fields := strings.Split(s, ",")
	if len(fields) != len(channels) {
		return channels, fmt.Errorf("expected %v channel values, got %v", len(channels), len(fields))
	}
	for i, field := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(field), 0, 16)
		if err != nil {
			return channels, fmt.Errorf("channel %v : %w", i, err)
		}
		channels[i] = int16(v)
	}
	return channels, nil
}

func runSim(cmd *cobra.Command, args []string) error {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	raw, _ := flags.GetString("values")
	channels, err := parseChannels(raw)
	if err != nil {
		return err
	}
	temperature, _ := flags.GetInt8("temperature")
	overload, _ := flags.GetBool("overload")

	bus, err := can.NewBus(cfg.Bus.Interface, cfg.Bus.Channel)
	if err != nil {
		return err
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	defer bus.Disconnect()

	sim := simulator.New(bus, cfg.Sensor.CanID)
	sim.SetChannels(channels)
	sim.SetTemperature(temperature)
	if overload {
		sim.SetStatus(protocol.StatusOverload)
	}
	if err := sim.Start(); err != nil {
		return err
	}
	log.Infof("[SIM] answering on %v %v, request id x%x", cfg.Bus.Interface, cfg.Bus.Channel, cfg.Sensor.CanID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	log.Infof("[SIM] answered %v requests", sim.Requests())
	return nil
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Answer measurement requests like an FTL sensor",
	RunE:  runSim,
}

func init() {
	flags := simCmd.Flags()
	flags.String("values", "0,0,0,0,0,0", "raw channel values sent in every reply")
	flags.Int8("temperature", 25, "temperature sent in every reply, in degree Celsius")
	flags.Bool("overload", false, "set the overload bit in every reply")
}
