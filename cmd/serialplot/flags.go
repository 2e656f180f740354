package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/serialplot/internal/config"
	"github.com/verte-zerg/serialplot/internal/frame"
	"github.com/verte-zerg/serialplot/internal/generator"
	"github.com/verte-zerg/serialplot/internal/model"
	"github.com/verte-zerg/serialplot/internal/source"
	"github.com/verte-zerg/serialplot/internal/window"
)

const (
	defaultWindow   = window.DefaultMaxLength
	defaultTick     = window.DefaultTickPeriod
	defaultRoll     = 1
	defaultMin      = 0.0
	defaultMax      = 1023.0
	defaultSimNoise = 0.0
	defaultSimBPM   = generator.DefaultBPM

	logLevelInfo  = "info"
	logLevelDebug = "debug"
)

var (
	configPath string

	serialPort        string
	serialBaud        int
	serialReadTimeout time.Duration

	simulate bool
	simRate  int
	simNoise float64
	simBPM   float64

	plotWindow     int
	plotTick       time.Duration
	plotRoll       int
	plotMin        float64
	plotMax        float64
	plotAutoRange  bool
	plotHeight     int
	plotParse      string
	plotMaxPending int

	logLevel string
	logFile  string
)

// registerFlags adds the acquisition and plot flags shared by the root and
// dump commands.
func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")

	flags.StringVarP(&serialPort, "port", "p", "", `serial port; empty picks the only detected port, "-" reads stdin`)
	flags.IntVar(&serialBaud, "baud", source.DefaultBaudRate, "baud rate")
	flags.DurationVar(&serialReadTimeout, "read-timeout", source.DefaultReadTimeout, "serial read timeout")

	flags.BoolVar(&simulate, "simulate", false, "plot a simulated pulse sensor instead of a device")
	flags.IntVar(&simRate, "sim-rate", source.DefaultSimRate, "simulated samples per second")
	flags.Float64Var(&simNoise, "sim-noise", defaultSimNoise, "probability of corrupting a simulated frame (0-1)")
	flags.Float64Var(&simBPM, "sim-bpm", defaultSimBPM, "simulated heart rate")

	flags.IntVarP(&plotWindow, "window", "n", defaultWindow, "number of samples shown")
	flags.DurationVar(&plotTick, "tick", defaultTick, "render period")
	flags.IntVar(&plotRoll, "roll", defaultRoll, "rolling average period in samples")
	flags.Float64Var(&plotMin, "min", defaultMin, "value axis minimum when auto range is off")
	flags.Float64Var(&plotMax, "max", defaultMax, "value axis maximum when auto range is off")
	flags.BoolVar(&plotAutoRange, "auto-range", true, "fit the value axis to the visible samples")
	flags.IntVar(&plotHeight, "height", 0, "chart height in rows (0 fills the terminal)")
	flags.StringVar(&plotParse, "parse", frame.ParseStrict.String(), "frame parsing: strict or lenient")
	flags.IntVar(&plotMaxPending, "max-pending", frame.DefaultMaxPending, "longest unterminated frame kept, in bytes")

	flags.StringVar(&logLevel, "log-level", logLevelInfo, "log level: info or debug")
	flags.StringVar(&logFile, "log-file", "", "log file for the TUI (default: XDG state dir)")
}

// resolveConfig merges the config file under the flags and validates the result.
func resolveConfig(cmd *cobra.Command) (model.Config, error) {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return model.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFileConfig(cmd, fileCfg); err != nil {
		return model.Config{}, err
	}
	cfg := model.Config{
		Port:        serialPort,
		Baud:        serialBaud,
		ReadTimeout: serialReadTimeout,
		Simulate:    simulate,
		SimRate:     simRate,
		SimNoise:    simNoise,
		SimBPM:      simBPM,
		Window:      plotWindow,
		Tick:        plotTick,
		Roll:        plotRoll,
		Min:         plotMin,
		Max:         plotMax,
		AutoRange:   plotAutoRange,
		Height:      plotHeight,
		Parse:       plotParse,
		MaxPending:  plotMaxPending,
		LogLevel:    logLevel,
		LogFile:     logFile,
	}
	if err := validateConfig(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func applyFileConfig(cmd *cobra.Command, fileCfg config.FileConfig) error {
	applyStringConfig(cmd, "port", &serialPort, fileCfg.Serial.Port)
	applyIntConfig(cmd, "baud", &serialBaud, fileCfg.Serial.Baud)
	if err := applyDurationConfig(cmd, "read-timeout", &serialReadTimeout, fileCfg.Serial.ReadTimeout); err != nil {
		return err
	}

	applyIntConfig(cmd, "sim-rate", &simRate, fileCfg.Sim.Rate)
	applyFloatConfig(cmd, "sim-noise", &simNoise, fileCfg.Sim.Noise)
	applyFloatConfig(cmd, "sim-bpm", &simBPM, fileCfg.Sim.BPM)

	applyIntConfig(cmd, "window", &plotWindow, fileCfg.Plot.Window)
	if err := applyDurationConfig(cmd, "tick", &plotTick, fileCfg.Plot.Tick); err != nil {
		return err
	}
	applyIntConfig(cmd, "roll", &plotRoll, fileCfg.Plot.Roll)
	applyFloatConfig(cmd, "min", &plotMin, fileCfg.Plot.Min)
	applyFloatConfig(cmd, "max", &plotMax, fileCfg.Plot.Max)
	applyBoolConfig(cmd, "auto-range", &plotAutoRange, fileCfg.Plot.AutoRange)
	applyIntConfig(cmd, "height", &plotHeight, fileCfg.Plot.Height)
	applyStringConfig(cmd, "parse", &plotParse, fileCfg.Plot.Parse)
	applyIntConfig(cmd, "max-pending", &plotMaxPending, fileCfg.Plot.MaxPending)

	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-file", &logFile, fileCfg.Log.File)
	return nil
}

func validateConfig(cfg model.Config) error {
	if cfg.Baud <= 0 {
		return fmt.Errorf("--baud must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("--read-timeout must be > 0")
	}
	if cfg.SimRate <= 0 || cfg.SimRate > 10000 {
		return fmt.Errorf("--sim-rate must be between 1 and 10000")
	}
	if cfg.SimNoise < 0 || cfg.SimNoise > 1 {
		return fmt.Errorf("--sim-noise must be between 0 and 1")
	}
	if cfg.SimBPM <= 0 {
		return fmt.Errorf("--sim-bpm must be > 0")
	}
	if cfg.Window < window.MinMaxLength {
		return fmt.Errorf("--window must be > 0")
	}
	if cfg.Tick <= 0 {
		return fmt.Errorf("--tick must be > 0")
	}
	if cfg.Roll < 1 {
		return fmt.Errorf("--roll must be >= 1")
	}
	if !cfg.AutoRange && cfg.Max <= cfg.Min {
		return fmt.Errorf("--max must be greater than --min")
	}
	if cfg.Height < 0 {
		return fmt.Errorf("--height must be >= 0")
	}
	if _, err := parsePolicy(cfg.Parse); err != nil {
		return err
	}
	if cfg.MaxPending <= 0 {
		return fmt.Errorf("--max-pending must be > 0")
	}
	if cfg.LogLevel != logLevelInfo && cfg.LogLevel != logLevelDebug {
		return fmt.Errorf("--log-level must be %q or %q", logLevelInfo, logLevelDebug)
	}
	return nil
}

func parsePolicy(value string) (frame.ParsePolicy, error) {
	policy, err := frame.ParsePolicyFromString(value)
	if err != nil {
		return policy, fmt.Errorf("--parse: %w", err)
	}
	return policy, nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *string) error {
	if value == nil || cmd.Flags().Changed(name) {
		return nil
	}
	d, err := config.ParseDuration(name, value)
	if err != nil {
		return err
	}
	*target = *d
	return nil
}
