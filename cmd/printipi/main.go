// printipi is the motion-control daemon for a linear-delta 3D printer
// on a Raspberry-Pi-class board: it turns a G-code stream into timed
// step pulses on the stepper drivers and regulates the hotend.
//
// Usage:
//
//	printipi run [--mode direct|dma] [--serial /dev/ttyAMA0] [--tcp :8888]
//
// Without a transport flag, commands are read from stdin. Without
// --hardware the daemon runs against simulated pins, which is useful
// for exercising the pipeline off-target.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/js-god/printipi/pkg/bcm"
	"github.com/js-god/printipi/pkg/config"
	"github.com/js-god/printipi/pkg/dma"
	"github.com/js-god/printipi/pkg/gcode"
	"github.com/js-god/printipi/pkg/iodrivers"
	"github.com/js-god/printipi/pkg/iopin"
	"github.com/js-god/printipi/pkg/log"
	"github.com/js-god/printipi/pkg/motion"
	"github.com/js-god/printipi/pkg/sched"
	"github.com/js-god/printipi/pkg/status"
)

var (
	flagMode       string
	flagHardware   bool
	flagSerial     string
	flagBaud       int
	flagTCP        string
	flagStatusAddr string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "printipi",
	Short: "Linear-delta 3D printer motion core",
	Long: `printipi drives a linear-delta 3D printer directly from a
Raspberry-Pi-class board: memory-mapped GPIO for step generation,
an RC-discharge thermistor for the hotend, and an optional DMA GPIO
ring for jitter-free step timing.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the motion core",
	RunE:  run,
}

func init() {
	runCmd.Flags().StringVar(&flagMode, "mode", "direct", "step emission mode: direct or dma")
	runCmd.Flags().BoolVar(&flagHardware, "hardware", false, "map the BCM peripherals (requires root)")
	runCmd.Flags().StringVar(&flagSerial, "serial", "", "serial device for the command stream")
	runCmd.Flags().IntVar(&flagBaud, "baud", 115200, "serial baud rate")
	runCmd.Flags().StringVar(&flagTCP, "tcp", "", "TCP listen address for the command stream")
	runCmd.Flags().StringVar(&flagStatusAddr, "status", ":7125", "status server address")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.GetLogger("main")
	if flagLogLevel != "" {
		logger.SetLevel(log.ParseLevel(flagLogLevel))
	}

	cfg := config.DefaultKossel()
	switch flagMode {
	case "direct":
		cfg.Sched.Mode = config.ModeDirect
	case "dma":
		cfg.Sched.Mode = config.ModeDMA
	default:
		return fmt.Errorf("unknown mode %q", flagMode)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Peripheral bring-up. Mapping failures are fatal (permission on
	// /dev/mem, pagemap access).
	var periph *bcm.Peripherals
	var clock sched.Clock
	if flagHardware {
		p, err := bcm.Open()
		if err != nil {
			return err
		}
		periph = p
		defer periph.Close()
		clock = p
	} else {
		logger.Warn("running against simulated pins (--hardware not set)")
		clock = sched.NewWallClock()
	}

	newPin := func(header int, pc iopin.Config) *iopin.Pin {
		if periph != nil {
			return iopin.New(iopin.NewBcmPin(periph, header), pc)
		}
		return iopin.New(iopin.NewSimPin(header), pc)
	}

	pins := cfg.Pins

	// Shared ENABLE, active low: off (high) is the safe state.
	enable := newPin(pins.Enable, iopin.Config{InvertWrites: true, Default: iopin.DefaultHigh})
	drvCfg := iodrivers.A4988Config{PulseWidth: cfg.PulseWidthMicros, DirSetup: cfg.DirSetupMicros}
	steppers := map[config.Axis]*iodrivers.A4988{
		config.AxisA: iodrivers.NewA4988(
			newPin(pins.StepA, iopin.Config{Default: iopin.DefaultLow}),
			newPin(pins.DirA, iopin.Config{Default: iopin.DefaultLow}), enable, drvCfg),
		config.AxisB: iodrivers.NewA4988(
			newPin(pins.StepB, iopin.Config{Default: iopin.DefaultLow}),
			newPin(pins.DirB, iopin.Config{Default: iopin.DefaultLow}), enable, drvCfg),
		config.AxisC: iodrivers.NewA4988(
			newPin(pins.StepC, iopin.Config{Default: iopin.DefaultLow}),
			newPin(pins.DirC, iopin.Config{Default: iopin.DefaultLow}), enable, drvCfg),
		config.AxisE: iodrivers.NewA4988(
			newPin(pins.StepE, iopin.Config{Default: iopin.DefaultLow}),
			newPin(pins.DirE, iopin.Config{Default: iopin.DefaultLow}), enable, drvCfg),
	}

	// Endstops trigger on a high line, pulled down while open.
	endstops := make(map[config.Axis]*iodrivers.Endstop)
	for axis, header := range map[config.Axis]int{
		config.AxisA: pins.EndstopA,
		config.AxisB: pins.EndstopB,
		config.AxisC: pins.EndstopC,
	} {
		endstops[axis] = iodrivers.NewEndstop(
			newPin(header, iopin.Config{Default: iopin.DefaultHighImpedance}),
			iodrivers.EndstopConfig{
				Name:        "endstop_" + axis.String(),
				Pull:        iopin.PullDown,
				ActiveLevel: iopin.High,
			})
	}

	therm := iodrivers.NewRCThermistor(
		newPin(pins.ThermSense, iopin.Config{Default: iopin.DefaultHighImpedance}),
		iodrivers.RCThermistorConfig{
			ThermistorConfig: cfg.Thermistor,
			FaultLimit:       cfg.TempFaultLimit,
		})

	// Hotend output is inverted: high-impedance-safe boards hold the
	// heater off when the line idles high.
	hotend := iodrivers.NewTempControl(
		newPin(pins.Hotend, iopin.Config{InvertWrites: true, Default: iopin.DefaultHigh}),
		cfg.HotendPID)
	fan := iodrivers.NewFan(newPin(pins.Fan, iopin.Config{Default: iopin.DefaultLow}))

	m := motion.NewDeltaCoordMap(&cfg)
	planner := motion.NewPlanner(&cfg, m)
	scheduler := sched.New(&cfg, clock, planner, sched.Hardware{
		Steppers: steppers,
		Endstops: endstops,
		Therm:    therm,
		Hotend:   hotend,
		Fan:      fan,
	})

	if cfg.Sched.Mode == config.ModeDMA {
		if periph == nil {
			return fmt.Errorf("DMA mode requires --hardware")
		}
		engine, err := dma.NewEngine(periph, cfg.Sched)
		if err != nil {
			return err
		}
		raster := engine.Start(clock.NowMicros())
		scheduler.EnableDMA(raster, engine.ReadCursorMicros)
		scheduler.SetFaultHandler(engine.CheckFault, func(base uint64) sched.GpioRaster {
			return engine.Rebuild(base)
		})
		defer engine.Stop()
		logger.Info("DMA step emission on channel %d", cfg.Sched.DmaChannel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := gcode.NewDispatcher(scheduler)
	dispatcher.EmergencyStop = func() {
		scheduler.Abort()
		iopin.DeactivateAll()
		cancel()
	}

	statusServer := status.NewServer(scheduler, flagStatusAddr)
	statusServer.Start()
	defer statusServer.Stop(context.Background())

	// The single command-producer thread.
	go func() {
		defer cancel()
		var err error
		switch {
		case flagSerial != "":
			port, perr := gcode.OpenSerial(flagSerial, flagBaud)
			if perr != nil {
				logger.WithError(perr).Error("serial transport failed")
				return
			}
			defer port.Close()
			err = gcode.Serve(ctx, dispatcher, port, port)
		case flagTCP != "":
			err = gcode.ServeTCP(ctx, dispatcher, flagTCP)
		default:
			err = gcode.Serve(ctx, dispatcher, os.Stdin, os.Stdout)
		}
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("command stream ended")
		}
	}()

	// A second SIGINT path exists inside the pin registry; this one
	// handles the graceful case.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		scheduler.Abort()
		cancel()
	}()

	logger.Info("motion core running (mode=%s)", flagMode)
	err := scheduler.Run(ctx)

	iopin.DeactivateAll()
	if err != nil {
		return err
	}
	logger.Info("clean shutdown")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
