package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, JSON: true, Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}, NoColor: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Output: &buf, NoColor: true}

	logger := NewLogger(config)

	deviceLogger := logger.WithDevice(42)
	deviceLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "device_id") || !strings.Contains(output, "42") {
		t.Errorf("Expected device_id=42 in output, got: %s", output)
	}

	buf.Reset()
	taskLogger := deviceLogger.WithTask(1)
	taskLogger.Info("task message")

	output = buf.String()
	if !strings.Contains(output, "device_id") {
		t.Errorf("Expected device_id in task logger output, got: %s", output)
	}
	if !strings.Contains(output, "task_id") {
		t.Errorf("Expected task_id in output, got: %s", output)
	}
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Output: &buf, NoColor: true}

	logger := NewLogger(config)
	requestLogger := logger.WithRequest(123, "RUN")
	requestLogger.Debug("processing request")

	output := buf.String()
	if !strings.Contains(output, "123") {
		t.Errorf("Expected tag=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "RUN") {
		t.Errorf("Expected op=RUN in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Output: &buf, NoColor: true}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Output: &buf, NoColor: true}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key") {
		t.Errorf("Expected key, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
