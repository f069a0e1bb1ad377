package amqp

import (
	"testing"
	"time"
)

func TestNewExpenseCreatedMessage(t *testing.T) {
	msg := NewExpenseCreatedMessage(12345)

	if msg.ID != 12345 {
		t.Errorf("NewExpenseCreatedMessage() ID = %v, want 12345", msg.ID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewExpenseCreatedMessage() Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("NewExpenseCreatedMessage() Timestamp should be recent")
	}
}

func TestExpenseCreatedMessage_JSON(t *testing.T) {
	msg := &ExpenseCreatedMessage{
		ID:        12345,
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := ExpenseCreatedMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("ExpenseCreatedMessageFromJSON() error = %v", err)
	}

	if parsed.ID != msg.ID {
		t.Errorf("Parsed ID = %v, want %v", parsed.ID, msg.ID)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestExpenseCreatedMessage_InvalidJSON(t *testing.T) {
	if _, err := ExpenseCreatedMessageFromJSON([]byte(`{"id": "not_a_number"}`)); err == nil {
		t.Error("ExpenseCreatedMessageFromJSON() should fail with invalid JSON")
	}
}
