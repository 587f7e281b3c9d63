/*
smartcharge - Detects the end of a battery charge from power readings.
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package smartcharge watches live power readings and signals when charging
// should stop.
package smartcharge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/TheCacophonyProject/smartcharge/internal/sample"
	"github.com/TheCacophonyProject/smartcharge/internal/service"
	"github.com/TheCacophonyProject/smartcharge/internal/sink"
	arg "github.com/alexflint/go-arg"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	Source         string        `arg:"--source" help:"Where readings come from: stdin, serial or ina219"`
	Device         string        `arg:"--device" help:"Device name for readings that don't carry one"`
	SerialPath     string        `arg:"--serial" help:"Serial port of the power meter"`
	Baud           int           `arg:"--baud" help:"Serial baud rate"`
	I2CAddress     int           `arg:"--i2c-address" help:"INA219 I2C address"`
	ShuntOhms      float64       `arg:"--shunt-ohms" help:"INA219 shunt resistance in ohms"`
	MaxCurrent     float64       `arg:"--max-current" help:"INA219 maximum expected current in amps"`
	PollInterval   time.Duration `arg:"--poll-interval" help:"INA219 polling interval"`
	DBus           bool          `arg:"--dbus" help:"Emit D-Bus signals and export the status service"`
	Events         bool          `arg:"--events" help:"Report charge events to the event reporter"`
	RelayPin       string        `arg:"--relay-pin" help:"GPIO pin driving a relay that cuts the charger. It reconnects on the next session, a reset (SIGHUP or D-Bus) or exit"`
	RelayActiveLow bool          `arg:"--relay-active-low" help:"The relay conducts while the pin is low"`
	RecordFile     string        `arg:"--record-file" help:"Append records as CSV to this file"`
	JSON           bool          `arg:"--json" help:"Write records as JSON lines to stdout"`
	MonitorArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Source:       "stdin",
	Device:       monitor.DefaultDevice,
	SerialPath:   "/dev/serial0",
	Baud:         9600,
	I2CAddress:   0x40,
	ShuntOhms:    0.1,
	MaxCurrent:   3.2,
	PollInterval: 5 * time.Second,
	MonitorArgs:  DefaultMonitorArgs(),
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)
	log.Info("Running version: ", version)

	cfg := args.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Debugf("Cutoff %.0f%%, efficiency %.2f, tick %s", cfg.TargetPercent, cfg.Efficiency, cfg.TickPeriod)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := buildSinks(args, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	manager, err := monitor.NewManager(ctx, cfg, clockwork.NewRealClock(), sinks, log)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	ctrl := controller{Manager: manager, sinks: sinks}
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hangup:
				log.Info("Resetting all sessions")
				ctrl.resetAll()
			}
		}
	}()

	if args.DBus {
		log.Info("Starting D-Bus service")
		if err := service.Start(ctrl); err != nil {
			return fmt.Errorf("failed to start D-Bus service: %w", err)
		}
	}

	err = readSource(ctx, args, manager.Deliver)
	if errors.Is(err, context.Canceled) {
		log.Info("Shutting down")
		return nil
	}
	return err
}

func readSource(ctx context.Context, args Args, deliver func(monitor.Reading) error) error {
	switch args.Source {
	case "stdin":
		log.Info("Reading power from stdin")
		return sample.ReadLines(ctx, os.Stdin, args.Device, deliver)
	case "serial":
		s := &sample.Serial{
			Path:    args.SerialPath,
			Baud:    args.Baud,
			Device:  args.Device,
			Retries: 3,
			Wait:    5 * time.Second,
			Log:     log,
		}
		return s.Run(ctx, deliver)
	case "ina219":
		s := &sample.INA219{
			Address:    byte(args.I2CAddress),
			ShuntOhms:  args.ShuntOhms,
			MaxCurrent: args.MaxCurrent,
			Interval:   args.PollInterval,
			Device:     args.Device,
			Log:        log,
		}
		return s.Run(ctx, deliver)
	default:
		return fmt.Errorf("unknown source '%s'", args.Source)
	}
}

func buildSinks(args Args, log *logrus.Logger) (sink.Multi, func(), error) {
	sinks := sink.Multi{sink.Log{Log: log}}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Error("Error closing sink: ", err)
			}
		}
	}

	if args.JSON {
		sinks = append(sinks, sink.NewJSON(os.Stdout))
	}
	if args.RecordFile != "" {
		f, err := os.OpenFile(args.RecordFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, f.Close)
		sinks = append(sinks, sink.NewCSV(f))
	}
	if args.DBus {
		d, err := sink.NewDBus()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, d)
	}
	if args.Events {
		sinks = append(sinks, sink.Events{Log: log})
	}
	if args.RelayPin != "" {
		r, err := sink.NewRelay(args.RelayPin, args.RelayActiveLow, log)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, r.Close)
		sinks = append(sinks, r)
	}
	return sinks, closeAll, nil
}

// controller resets sessions and releases whatever the sinks hold for them,
// such as a cut charger relay.
type controller struct {
	*monitor.Manager
	sinks sink.Multi
}

func (c controller) Reset(device string) error {
	if err := c.Manager.Reset(device); err != nil {
		return err
	}
	return c.sinks.Release(device)
}

func (c controller) resetAll() {
	for _, device := range c.Devices() {
		if err := c.Reset(device); err != nil {
			log.Errorf("Failed to reset %s: %v", device, err)
		}
	}
}
