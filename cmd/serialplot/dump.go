package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/verte-zerg/serialplot/internal/chart"
	"github.com/verte-zerg/serialplot/internal/logx"
	"github.com/verte-zerg/serialplot/internal/session"
	"github.com/verte-zerg/serialplot/internal/window"
)

var (
	dumpCount    int
	dumpDuration time.Duration
	dumpPlot     bool
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print samples as elapsed seconds and value, one per line",
		Args:  cobra.NoArgs,
		RunE:  runDumpCmd,
	}
	cmd.Flags().IntVar(&dumpCount, "count", 0, "stop after N samples (0 reads until the stream ends)")
	cmd.Flags().DurationVar(&dumpDuration, "duration", 0, "stop after this long (0 disables)")
	cmd.Flags().BoolVar(&dumpPlot, "plot", false, "print a chart of the final window")
	return cmd
}

func runDumpCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if dumpCount < 0 {
		return fmt.Errorf("--count must be >= 0")
	}
	if dumpDuration < 0 {
		return fmt.Errorf("--duration must be >= 0")
	}
	log := logx.New(os.Stderr, cfg.LogLevel == logLevelDebug)
	ctx := pslog.ContextWithLogger(cmd.Context(), log)

	out := cmd.OutOrStdout()
	d := newDumper(out, dumpCount)
	var (
		mu    sync.Mutex
		cause error
	)
	sess, err := newSession(cfg, session.Options{
		SampleHook: d.write,
		Observer: func(ev session.Event) {
			if ev.State == session.StateIdle && ev.Err != nil {
				mu.Lock()
				cause = ev.Err
				mu.Unlock()
			}
		},
	})
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	ended := make(chan struct{})
	go func() {
		sess.Wait()
		close(ended)
	}()
	var timeout <-chan time.Time
	if dumpDuration > 0 {
		timer := time.NewTimer(dumpDuration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ended:
	case <-d.done:
	case <-timeout:
	case <-ctx.Done():
	}
	if err := sess.Stop(); err != nil {
		return err
	}

	st := sess.Stats()
	log.Info("dump finished", "samples", st.Samples, "frames", st.Frames, "malformed", st.Malformed, "overflows", st.Overflows)
	if d.err != nil {
		return fmt.Errorf("failed to write output: %w", d.err)
	}
	if dumpPlot {
		win := sess.Window()
		samples := tail(win.Snapshot(), win.MaxLength())
		opts := chartOptions(cfg)
		opts.Color = chart.ColorEnabled(out)
		if err := chart.Write(out, samples, opts); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	return cause
}

// dumper prints samples from the session's sample hook, which runs on a
// single goroutine.
type dumper struct {
	w     io.Writer
	limit int
	n     int
	err   error
	done  chan struct{}
	once  sync.Once
}

func newDumper(w io.Writer, limit int) *dumper {
	return &dumper{w: w, limit: limit, done: make(chan struct{})}
}

func (d *dumper) write(s window.Sample) {
	if d.err != nil || (d.limit > 0 && d.n >= d.limit) {
		return
	}
	if _, err := fmt.Fprintf(d.w, "%.3f\t%d\n", s.Elapsed, s.Value); err != nil {
		d.err = err
		d.finish()
		return
	}
	d.n++
	if d.limit > 0 && d.n >= d.limit {
		d.finish()
	}
}

func (d *dumper) finish() {
	d.once.Do(func() { close(d.done) })
}

func tail(samples []window.Sample, n int) []window.Sample {
	if len(samples) > n {
		return samples[len(samples)-n:]
	}
	return samples
}
