package serial

import (
	"os"

	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = logging.MustGetLogger("nusuart")

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s} nusuart ▶%{color:reset} %{message}`,
)

// LogLevel maps the 0-5 log-level config knob onto op/go-logging's
// severity levels, most-verbose first.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelNotice
	LogLevelWarning
	LogLevelError
	LogLevelCritical
)

func (l LogLevel) toLogging() logging.Level {
	switch l {
	case LogLevelDebug:
		return logging.DEBUG
	case LogLevelInfo:
		return logging.INFO
	case LogLevelNotice:
		return logging.NOTICE
	case LogLevelWarning:
		return logging.WARNING
	case LogLevelError:
		return logging.ERROR
	case LogLevelCritical:
		return logging.CRITICAL
	default:
		return logging.NOTICE
	}
}

// SetupLogging wires a leveled stderr backend and, when logFilePath is
// non-empty, a size-rotated file backend behind it. A rotating file
// stands in for syslog since this transport runs on
// microcontroller-adjacent hosts that rarely have a syslog daemon.
func SetupLogging(level LogLevel, logFilePath string) *logging.Logger {
	backends := make([]logging.Backend, 0, 2)

	stderrBackend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetFormatter(stderrFormat)
	backends = append(backends, stderrBackend)

	if logFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		fileBackend := logging.NewLogBackend(rotator, "", 0)
		backends = append(backends, fileBackend)
	}

	multi := logging.SetBackend(backends...)
	multi.SetLevel(level.toLogging(), "")
	return log
}
