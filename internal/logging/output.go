package logging

import "go.uber.org/zap"

// writeLog emits msg at level through the underlying zap.Logger,
// merging in fields and routing to the right zap method.
func (l *Logger) writeLog(level string, msg string, fields map[string]interface{}) {
	zfields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}

	switch level {
	case "DEBUG":
		l.zl.Debug(msg, zfields...)
	case "INFO":
		l.zl.Info(msg, zfields...)
	case "WARN":
		l.zl.Warn(msg, zfields...)
	case strError:
		l.zl.Error(msg, zfields...)
	case "FATAL":
		l.zl.Error(msg, zfields...)
	default:
		l.zl.Info(msg, zfields...)
	}
}
