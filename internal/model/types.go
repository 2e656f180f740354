// Package model defines shared data structures.
package model

import "time"

// Config defines the acquisition and plot settings for a run.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration

	Simulate bool
	SimRate  int
	SimNoise float64
	SimBPM   float64

	Window     int
	Tick       time.Duration
	Roll       int
	Min        float64
	Max        float64
	AutoRange  bool
	Height     int
	Parse      string
	MaxPending int

	LogLevel string
	LogFile  string
}
