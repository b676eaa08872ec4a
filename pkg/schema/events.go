package schema

// Lifecycle event names published on the event bus.
const (
	EventBeforeExecute = "before_execute"
	EventAfterExecute  = "after_execute"
	EventExecuteFailed = "execute_failed"

	EventLoadFailed    = "load_failed"
	EventBeforeRefresh = "before_refresh"
	EventAfterRefresh  = "after_refresh"

	EventAutoRefreshStarted = "auto_refresh_started"
	EventAutoRefreshStopped = "auto_refresh_stopped"
)

// AnyScope matches actions regardless of the target application.
const AnyScope = "*"
