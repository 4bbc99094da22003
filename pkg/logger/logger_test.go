package logger

import (
	"reflect"
	"testing"
)

type recordedCall struct {
	level   string
	message string
	keyvals []any
}

type recordingBackend struct {
	calls []recordedCall
}

func (b *recordingBackend) record(level, message string, keyvals []any) {
	b.calls = append(b.calls, recordedCall{level: level, message: message, keyvals: keyvals})
}

func (b *recordingBackend) Debug(message string, keyvals ...any) { b.record("debug", message, keyvals) }
func (b *recordingBackend) Info(message string, keyvals ...any)  { b.record("info", message, keyvals) }
func (b *recordingBackend) Warn(message string, keyvals ...any)  { b.record("warn", message, keyvals) }
func (b *recordingBackend) Error(message string, keyvals ...any) { b.record("error", message, keyvals) }
func (b *recordingBackend) Fatal(message string, keyvals ...any) { b.record("fatal", message, keyvals) }

func TestDispatchCarriesLevelAndKeyvals(t *testing.T) {
	b := &recordingBackend{}
	Init(b)
	defer Init(nil)

	Info("started", "port", 8080)
	Error("failed", "err", "boom")

	want := []recordedCall{
		{level: "info", message: "started", keyvals: []any{"port", 8080}},
		{level: "error", message: "failed", keyvals: []any{"err", "boom"}},
	}
	if !reflect.DeepEqual(b.calls, want) {
		t.Errorf("unexpected dispatch: got %+v, want %+v", b.calls, want)
	}
}

func TestLoggingWithoutBackendIsDropped(t *testing.T) {
	Init(nil)

	// Must not panic.
	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
}
