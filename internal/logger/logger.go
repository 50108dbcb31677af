package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu sync.RWMutex

	stdLogger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

	DebugEnabled = false

	logFile *os.File
)

// InitLogging sets up logging based on configuration.
// With an empty logPath messages go to stderr.
func InitLogging(debugMode bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = debugMode

	if logPath == "" {
		stdLogger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
		return nil
	}

	logDir := filepath.Dir(logPath)
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if logFile != nil {
		logFile.Close()
	}

	logFile = f
	stdLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lshortfile)

	return nil
}

// SetOutput redirects all messages to w. Mostly useful in tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	stdLogger = log.New(w, "", log.Ldate|log.Ltime|log.Lshortfile)
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	stdLogger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func output(prefix, format string, v ...interface{}) {
	mu.RLock()
	l := stdLogger
	mu.RUnlock()

	// skip output, Infof/Errorf/... and land on the caller
	_ = l.Output(3, prefix+fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	output("[INFO] ", format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	output("[ERROR] ", format, v...)
}

// Debugf logs only when debug mode is enabled.
func Debugf(format string, v ...interface{}) {
	mu.RLock()
	enabled := DebugEnabled
	mu.RUnlock()

	if enabled {
		output("[DEBUG] ", format, v...)
	}
}

func Warnf(format string, v ...interface{}) {
	output("[WARNING] ", format, v...)
}
