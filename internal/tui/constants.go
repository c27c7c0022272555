package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval = 500 * time.Millisecond

	// Layout Offsets and Padding
	HeaderWidthOffset      = 2
	ProgressBarWidthOffset = 4
	DefaultPaddingX        = 1
	DefaultPaddingY        = 0
	DefaultWidth           = 80

	// Throughput graph
	GraphHeight        = 4
	GraphHistoryPoints = 120

	// Weight of the newest sample in the per-item speed average
	SpeedSmoothing = 0.3
)
