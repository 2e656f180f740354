// Package main provides the CLI entrypoint for serialplot.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/verte-zerg/serialplot/internal/chart"
	"github.com/verte-zerg/serialplot/internal/config"
	"github.com/verte-zerg/serialplot/internal/logx"
	"github.com/verte-zerg/serialplot/internal/model"
	"github.com/verte-zerg/serialplot/internal/session"
	"github.com/verte-zerg/serialplot/internal/source"
	"github.com/verte-zerg/serialplot/internal/tui"
	"github.com/verte-zerg/serialplot/internal/window"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := logx.New(os.Stderr, false)
	ctx = pslog.ContextWithLogger(ctx, logger)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("serialplot failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "serialplot",
		Short:         "Live terminal plot of <n> frames from a serial device",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPlotCmd,
	}
	registerFlags(rootCmd)

	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newPortsCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func runPlotCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = config.DefaultLogPath()
	}
	logFile, err := logx.OpenFile(logPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logErrf("failed to close log file: %v\n", cerr)
		}
	}()
	log := logx.New(logFile, cfg.LogLevel == logLevelDebug)
	ctx := pslog.ContextWithLogger(cmd.Context(), log)

	var sender tui.Sender
	sess, err := newSession(cfg, session.Options{
		Renderer: &sender,
		Observer: sender.Observe,
	})
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	m := tui.NewModel(ctx, sess, chartOptions(cfg), true)
	opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if cfg.Port == source.StdinName && !cfg.Simulate {
		// Stdin carries the data, so keys come from the terminal.
		opts = append(opts, tea.WithInputTTY())
	}
	program := tea.NewProgram(m, opts...)
	sender.Attach(program)
	log.Info("plot started", "source", sess.SourceName(), "window", cfg.Window, "tick", cfg.Tick)
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// newSession builds the source, window and session for cfg. opts supplies the
// outputs; decoding settings come from cfg.
func newSession(cfg model.Config, opts session.Options) (*session.Session, error) {
	policy, err := parsePolicy(cfg.Parse)
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	opts.MaxPending = cfg.MaxPending
	opts.TickPeriod = cfg.Tick
	return session.New(newSource(cfg), window.New(cfg.Window), opts), nil
}

func newSource(cfg model.Config) session.Source {
	switch {
	case cfg.Simulate:
		return &source.Simulator{Rate: cfg.SimRate, Noise: cfg.SimNoise, BPM: cfg.SimBPM}
	case cfg.Port == source.StdinName:
		return source.NewReader(source.StdinName, os.Stdin)
	default:
		return source.NewSerial(cfg.Port, cfg.Baud, cfg.ReadTimeout)
	}
}

func chartOptions(cfg model.Config) chart.Options {
	return chart.Options{
		Height:     cfg.Height,
		Min:        cfg.Min,
		Max:        cfg.Max,
		AutoRange:  cfg.AutoRange,
		RollPeriod: cfg.Roll,
		Color:      chart.ColorEnabled(os.Stdout),
	}
}

func closeSession(ctx context.Context, sess *session.Session) {
	if err := sess.Close(); err != nil {
		pslog.Ctx(ctx).Warn("session close failed", "err", err)
	}
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
