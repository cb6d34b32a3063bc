// Package log defines the small structured-logging surface used by the
// plasmite tooling. The core binding stays silent; the conformance
// runner and the pool watcher log through this interface so callers can
// plug in zerolog (the provided adapter) or anything else.
package log

// Logger provides leveled, structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}
