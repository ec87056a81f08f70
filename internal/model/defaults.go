package model

import "time"

// Shared defaults used by both the service and CLI binaries.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultReplayLimit    = 32
	DefaultHostTimeout    = 30 * time.Second
)
