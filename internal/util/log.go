package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are shown.
func DebugEnabled() bool {
	level := pterm.DefaultLogger.Level
	return level == pterm.LogLevelDebug || level == pterm.LogLevelTrace
}

// Tag prefixes the log lines of one relay connection with "[%08x]".
type Tag uint32

func (t Tag) String() string { return fmt.Sprintf("[%08x]", uint32(t)) }

func (t Tag) Debug(format string, args ...interface{}) {
	LogDebug(t.String()+" "+format, args...)
}

func (t Tag) Info(format string, args ...interface{}) {
	LogInfo(t.String()+" "+format, args...)
}

func (t Tag) Warning(format string, args ...interface{}) {
	LogWarning(t.String()+" "+format, args...)
}

func (t Tag) Error(format string, args ...interface{}) {
	LogError(t.String()+" "+format, args...)
}
