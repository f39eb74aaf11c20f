package shared

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger(enclaveMode bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	logger := &Logger{
		Logger:      zap.New(core),
		serviceName: "test",
		enclaveMode: enclaveMode,
	}
	return logger, logs
}

func TestLoggerEnclaveMode(t *testing.T) {
	t.Run("DebugIfSuppressedInEnclave", func(t *testing.T) {
		logger, logs := observedLogger(true)
		logger.DebugIf("should not appear")
		if logs.Len() != 0 {
			t.Errorf("Expected no entries in enclave mode, got %d", logs.Len())
		}
	})

	t.Run("DebugIfEmitsOutsideEnclave", func(t *testing.T) {
		logger, logs := observedLogger(false)
		logger.DebugIf("visible")
		if logs.Len() != 1 {
			t.Fatalf("Expected one entry, got %d", logs.Len())
		}
	})

	t.Run("CriticalAlwaysLogs", func(t *testing.T) {
		logger, logs := observedLogger(true)
		logger.Critical("broken", zap.String("component", "renewal"))
		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("Expected one entry, got %d", len(entries))
		}
		fields := entries[0].ContextMap()
		if critical, ok := fields["critical"].(bool); !ok || !critical {
			t.Errorf("Expected a critical=true field, got %v", fields)
		}
	})
}

func TestLoggerWithSession(t *testing.T) {
	logger, logs := observedLogger(false)

	logger.WithSession("session-42").Info("hello")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["session_id"]; got != "session-42" {
		t.Errorf("Expected session_id field, got %v", got)
	}

	// Empty session IDs add no field.
	if logger.WithSession("") != logger.Logger {
		t.Errorf("Expected the bare logger for an empty session ID")
	}
}
