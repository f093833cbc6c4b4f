package cdpcore

import "time"

const (
	// DefaultTimeout is the non-zero default timeout: TimeoutSettings
	// falls back to it when no value is set along its chain, and
	// browseropts.DefaultNavigationOptions uses it. A zero Timeout in
	// NavigationOptions still means no timeout.
	DefaultTimeout time.Duration = 30 * time.Second

	// NetworkIdleTimeout is the quiet period required, with no in-flight
	// requests, before a frame synthesizes the networkIdle lifecycle
	// event. networkAlmostIdle is only ever taken from the browser's own
	// Page.lifecycleEvent.
	NetworkIdleTimeout time.Duration = 500 * time.Millisecond
)
