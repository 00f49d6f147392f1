package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

func TestNewLogger(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogLevels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Fatal("Expected logs to be written")
	}
}

func TestFieldsAppear(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("checkout completed",
		entitlement.Field{Key: "user_id", Value: "u1"},
		entitlement.Field{Key: "amount", Value: "49.00"})

	var entry map[string]any
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("Log entry not JSON: %v", err)
	}
	if entry["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", entry["user_id"])
	}
	if entry["amount"] != "49.00" {
		t.Errorf("amount = %v, want 49.00", entry["amount"])
	}
	if entry["message"] != "checkout completed" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	logger.Info("hidden")
	if output.Len() != 0 {
		t.Errorf("Sub-warn logs written: %s", output.String())
	}

	logger.Warn("visible")
	if output.Len() == 0 {
		t.Error("Warn log not written")
	}
}
