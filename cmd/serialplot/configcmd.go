package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/serialplot/internal/frame"
	"github.com/verte-zerg/serialplot/internal/source"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# serialplot configuration
# Uncomment a value to enable it. CLI flags override config values.

[serial]
# port = "/dev/ttyACM0"   # Empty picks the only detected port, "-" reads stdin
# baud = %d
# read-timeout = %q

[plot]
# window = %d            # Number of samples shown
# tick = %q             # Render period
# roll = %d                # Rolling average period in samples
# auto-range = true       # Fit the value axis to the visible samples
# min = %.0f               # Value axis minimum when auto-range is false
# max = %.0f            # Value axis maximum when auto-range is false
# height = 0              # Chart rows, 0 fills the terminal
# parse = %q        # strict or lenient
# max-pending = %d      # Longest unterminated frame kept, in bytes

[sim]
# rate = %d              # Simulated samples per second
# noise = %.1f             # Probability of corrupting a simulated frame
# bpm = %.0f               # Simulated heart rate

[log]
# level = %q          # info or debug
# file = ""               # Defaults to the XDG state directory
`,
		source.DefaultBaudRate,
		source.DefaultReadTimeout.String(),
		defaultWindow,
		defaultTick.String(),
		defaultRoll,
		defaultMin,
		defaultMax,
		frame.ParseStrict.String(),
		frame.DefaultMaxPending,
		source.DefaultSimRate,
		defaultSimNoise,
		defaultSimBPM,
		logLevelInfo,
	)
}
