package cdpcore

// Event name constants used across the FrameManager, NetworkManager,
// Browser and Session emitters. Grouped by owning component, matching the
// grouping convention of the event-name vocabulary this core is built
// against.
const (
	// Session
	EventSessionClosed = "session.closed"

	// FrameManager / Frame
	EventFrameAttached               = "frame.attached"
	EventFrameDetached               = "frame.detached"
	EventFrameNavigated              = "frame.navigated"
	EventFrameNavigatedWithinDocument = "frame.navigatedWithinDocument"
	EventLifecycleEvent              = "frame.lifecycleEvent"

	// NetworkManager
	EventRequest         = "network.request"
	EventRequestFailed   = "network.requestFailed"
	EventRequestFinished = "network.requestFinished"
	EventResponse        = "network.response"

	// Browser / Target
	EventTargetCreated   = "browser.targetCreated"
	EventTargetChanged   = "browser.targetChanged"
	EventTargetDestroyed = "browser.targetDestroyed"
	EventClosed          = "browser.closed"
	EventDisconnected    = "browser.disconnected"

	// Page
	EventDialog = "page.dialog"
)
