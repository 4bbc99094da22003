// Package logger is the process-wide logging facade. Binaries install a
// backend once at startup; every other package logs through the level
// functions and stays decoupled from the backend choice.
package logger

// Backend is the sink the facade dispatches to.
type Backend interface {
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

var backend Backend

// Init installs the backend. Calls before Init are dropped silently so
// library code can log without caring whether a binary set one up.
func Init(b Backend) {
	backend = b
}

// Debug writes a message at DEBUG level.
func Debug(message string, keyvals ...any) {
	if backend != nil {
		backend.Debug(message, keyvals...)
	}
}

// Info writes a message at INFO level.
func Info(message string, keyvals ...any) {
	if backend != nil {
		backend.Info(message, keyvals...)
	}
}

// Warn writes a message at WARN level.
func Warn(message string, keyvals ...any) {
	if backend != nil {
		backend.Warn(message, keyvals...)
	}
}

// Error writes a message at ERROR level.
func Error(message string, keyvals ...any) {
	if backend != nil {
		backend.Error(message, keyvals...)
	}
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	if backend != nil {
		backend.Fatal(message, keyvals...)
	}
}
