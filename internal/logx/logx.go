// Package logx provides structured logging for the runner with environment-driven debug filtering.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes timestamped, domain-tagged lines to stderr.
type Logger struct {
	domain string
	logger *log.Logger
}

// debugConfig controls which domains emit Debug-level output.
type debugConfig struct {
	domains map[string]bool
	enabled bool
}

var (
	dbgMu  sync.RWMutex
	dbg    = &debugConfig{}
	inited sync.Once
)

func initFromEnv() {
	dbgMu.Lock()
	defer dbgMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		dbg.enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		dbg.domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			dbg.domains[strings.TrimSpace(d)] = true
		}
	}
}

// NewLogger returns a logger tagged with the given domain (e.g. "taskworker", "runner").
func NewLogger(domain string) *Logger {
	inited.Do(initFromEnv)
	return &Logger{domain: domain, logger: log.New(os.Stderr, "", 0)}
}

// SetDebug enables or disables debug output globally, optionally restricted to domains.
func SetDebug(enabled bool, domains ...string) {
	dbgMu.Lock()
	defer dbgMu.Unlock()
	dbg.enabled = enabled
	if len(domains) == 0 {
		dbg.domains = nil
		return
	}
	dbg.domains = make(map[string]bool, len(domains))
	for _, d := range domains {
		dbg.domains[d] = true
	}
}

func debugEnabledFor(domain string) bool {
	dbgMu.RLock()
	defer dbgMu.RUnlock()
	if !dbg.enabled {
		return false
	}
	if dbg.domains == nil {
		return true
	}
	return dbg.domains[domain]
}

func (l *Logger) line(level Level, format string, args ...any) string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("[%s] [%s] %s: %s", ts, l.domain, level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any)  { l.logger.Println(l.line(LevelInfo, format, args...)) }
func (l *Logger) Warn(format string, args ...any)  { l.logger.Println(l.line(LevelWarn, format, args...)) }
func (l *Logger) Error(format string, args ...any) { l.logger.Println(l.line(LevelError, format, args...)) }

// Debug logs only when debug output is enabled for this logger's domain.
func (l *Logger) Debug(format string, args ...any) {
	if !debugEnabledFor(l.domain) {
		return
	}
	l.logger.Println(l.line(LevelDebug, format, args...))
}

// Wrap logs msg + err at error level and returns a wrapped error for the caller to propagate.
func Wrap(logger *Logger, err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	if logger != nil {
		logger.Error("%s", wrapped.Error())
	}
	return wrapped
}
