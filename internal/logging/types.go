package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

const strError = "ERROR"

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogField is a structured logging key/value pair.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger wraps a named zap.Logger, attaching persistent fields and an
// optional context for trace/span ID extraction.
type Logger struct {
	zl     *zap.Logger
	level  LogLevel
	name   string
	fields map[string]interface{}
	ctx    loggerContext
}

// packageLogLevels stores per-package log level overrides. Key format:
// "package.name" or "pattern.*" for wildcard matching.
var (
	packageLogLevels = make(map[string]LogLevel)
	packageLogMutex  sync.RWMutex
)

// SetPackageLogLevels configures per-package log levels. Supports
// patterns like "graph.*" to match "graph.sync", "graph.analyze", etc.
func SetPackageLogLevels(levels map[string]string) error {
	if levels == nil {
		return nil
	}

	packageLogMutex.Lock()
	defer packageLogMutex.Unlock()

	parsed := make(map[string]LogLevel, len(levels))
	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return &levelError{pkg: pkg, err: err}
		}
		parsed[pkg] = level
	}
	packageLogLevels = parsed
	return nil
}

type levelError struct {
	pkg string
	err error
}

func (e *levelError) Error() string {
	return "invalid log level for package \"" + e.pkg + "\": " + e.err.Error()
}

func (e *levelError) Unwrap() error { return e.err }

// GetPackageLogLevel returns the effective log level for a package
// name, or -1 if no override applies.
func GetPackageLogLevel(packageName string) LogLevel {
	packageLogMutex.RLock()
	defer packageLogMutex.RUnlock()

	if level, exists := packageLogLevels[packageName]; exists {
		return level
	}

	var best string
	for pattern := range packageLogLevels {
		if matchesPattern(packageName, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		return packageLogLevels[best]
	}
	return LogLevel(-1)
}

func matchesPattern(packageName, pattern string) bool {
	if packageName == pattern {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(packageName, prefix+".")
	}
	return false
}

func parseLevel(levelStr string) (LogLevel, error) {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case strError:
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return -1, &badLevelError{levelStr}
	}
}

type badLevelError struct{ level string }

func (e *badLevelError) Error() string {
	return "invalid level: " + e.level + " (must be DEBUG, INFO, WARN, ERROR, or FATAL)"
}
