// Package logger provides leveled logging for the scanner service.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	minLevel = InfoLevel
	std      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// Init sets the minimum level and output format of the default logger.
func Init(level, format string) {
	switch strings.ToLower(level) {
	case "debug":
		minLevel = DebugLevel
	case "warn":
		minLevel = WarnLevel
	case "error":
		minLevel = ErrorLevel
	default:
		minLevel = InfoLevel
	}

	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	std = log.New(os.Stderr, "", flags)
}

func output(l Level, tag, format string, args ...interface{}) {
	if minLevel > l {
		return
	}
	_ = std.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...interface{}) { output(DebugLevel, "[DEBUG] ", format, args...) }

func Info(format string, args ...interface{}) { output(InfoLevel, "[INFO] ", format, args...) }

func Warn(format string, args ...interface{}) { output(WarnLevel, "[WARN] ", format, args...) }

func Error(format string, args ...interface{}) { output(ErrorLevel, "[ERROR] ", format, args...) }

// Fatal logs the message and exits the process.
func Fatal(format string, args ...interface{}) {
	_ = std.Output(2, fmt.Sprintf("[FATAL] "+format, args...))
	os.Exit(1)
}
