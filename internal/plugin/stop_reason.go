package plugin

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown          StopReason = "unknown"
	StopSignal           StopReason = "signal"
	StopFatalError       StopReason = "fatal_error"
	StopAppStop          StopReason = "app_stop"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)
