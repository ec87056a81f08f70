package model

import "context"

// Navigation is the public navigation surface exposed to application code.
type Navigation interface {
	NavigateTo(ctx context.Context, params NavigationParams) (Result, error)
	RedirectTo(ctx context.Context, params NavigationParams) (Result, error)
	SwitchTab(ctx context.Context, params NavigationParams) (Result, error)
	ReLaunch(ctx context.Context, params NavigationParams) (Result, error)
	NavigateBack(ctx context.Context, params NavigationParams) (Result, error)
}

// StackInspector provides a read-only view of the navigation history.
type StackInspector interface {
	Snapshot() []NodeSnapshot
}

// ChannelStats reports per-type message counts for each named channel.
type ChannelStats interface {
	ChannelStats() map[string]map[string]int
}

// InspectAPI is the unified contract for read/inspect surfaces (HTTP and TUI).
type InspectAPI interface {
	Navigation
	StackInspector
	ChannelStats
}
