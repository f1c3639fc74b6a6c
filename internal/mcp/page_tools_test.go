package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"
)

// fakePage attaches a connection and answers every envelope with respond's
// return value, keyed off the request id it extracts.
func fakePage(t *testing.T, reg *bridge.Registry, broker *bridge.Broker, respond func(env map[string]interface{}) string) {
	t.Helper()
	conn, err := reg.Attach("fake-page", "test")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for raw := range conn.Outbound() {
			var env map[string]interface{}
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			if env["type"] == "ABORT" {
				continue
			}
			if resp := respond(env); resp != "" {
				broker.HandleInbound(conn.ID, []byte(resp))
			}
		}
	}()
}

func newToolBroker(t *testing.T) (*bridge.Registry, *bridge.Broker) {
	t.Helper()
	reg := bridge.NewRegistry(10, 16)
	return reg, bridge.NewBroker(reg, bridge.NewTable())
}

func TestSnapshotTool(t *testing.T) {
	tool := &SnapshotTool{}

	t.Run("name", func(t *testing.T) {
		if name := tool.Name(); name != "browtrix_html_snapshot" {
			t.Errorf("expected name 'browtrix_html_snapshot', got %q", name)
		}
	})

	t.Run("description", func(t *testing.T) {
		if desc := tool.Description(); desc == "" {
			t.Error("expected non-empty description")
		}
	})

	t.Run("schema", func(t *testing.T) {
		schema := tool.InputSchema()
		if schema == nil {
			t.Error("expected non-nil schema")
		}
	})
}

func TestSnapshotToolValidation(t *testing.T) {
	_, broker := newToolBroker(t)
	tool := &SnapshotTool{broker: broker, grace: 5 * time.Second}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"blank wait_for", map[string]interface{}{"wait_for": "   "}},
		{"wait_timeout too low", map[string]interface{}{"wait_timeout": float64(0)}},
		{"wait_timeout too high", map[string]interface{}{"wait_timeout": float64(61)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tool.Execute(context.Background(), tc.args); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSnapshotToolNoConnection(t *testing.T) {
	_, broker := newToolBroker(t)
	tool := &SnapshotTool{broker: broker, grace: time.Second}

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if !errors.Is(err, bridge.ErrNoActiveConnection) {
		t.Errorf("expected ErrNoActiveConnection, got %v", err)
	}
}

func TestSnapshotToolRoundTrip(t *testing.T) {
	reg, broker := newToolBroker(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		if env["type"] != "SNAPSHOT" {
			t.Errorf("expected SNAPSHOT envelope, got %v", env["type"])
		}
		if env["full_page"] != true {
			t.Errorf("expected full_page default true, got %v", env["full_page"])
		}
		return fmt.Sprintf(`{"id":%q,"success":true,"html_content":"<html><body>hi</body></html>","url":"https://example.com","title":"Example"}`, env["id"])
	})

	tool := &SnapshotTool{broker: broker, grace: 5 * time.Second}
	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	out, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	if out["html_content"] != "<html><body>hi</body></html>" {
		t.Errorf("unexpected html_content: %v", out["html_content"])
	}
	if out["url"] != "https://example.com" || out["title"] != "Example" {
		t.Errorf("unexpected page metadata: %v", out)
	}
	if out["content_size"] != len("<html><body>hi</body></html>") {
		t.Errorf("unexpected content_size: %v", out["content_size"])
	}
}

func TestSnapshotToolEmptyContent(t *testing.T) {
	reg, broker := newToolBroker(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		return fmt.Sprintf(`{"id":%q,"success":true,"html_content":""}`, env["id"])
	})

	tool := &SnapshotTool{broker: broker, grace: 5 * time.Second}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("expected error for empty snapshot content")
	}
}

func TestConfirmTool(t *testing.T) {
	tool := &ConfirmTool{}

	t.Run("name", func(t *testing.T) {
		if name := tool.Name(); name != "browtrix_confirmation_alert" {
			t.Errorf("expected name 'browtrix_confirmation_alert', got %q", name)
		}
	})

	t.Run("description", func(t *testing.T) {
		if desc := tool.Description(); desc == "" {
			t.Error("expected non-empty description")
		}
	})

	t.Run("schema", func(t *testing.T) {
		schema := tool.InputSchema()
		if schema == nil {
			t.Error("expected non-nil schema")
		}
	})
}

func TestConfirmToolValidation(t *testing.T) {
	_, broker := newToolBroker(t)
	tool := &ConfirmTool{broker: broker}

	long := make([]byte, maxMessageChars+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing message", map[string]interface{}{}},
		{"blank message", map[string]interface{}{"message": "  "}},
		{"message too long", map[string]interface{}{"message": string(long)}},
		{"timeout too low", map[string]interface{}{"message": "ok?", "timeout": float64(4)}},
		{"timeout too high", map[string]interface{}{"message": "ok?", "timeout": float64(301)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tool.Execute(context.Background(), tc.args); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfirmToolRoundTrip(t *testing.T) {
	reg, broker := newToolBroker(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		if env["type"] != "CONFIRM" {
			t.Errorf("expected CONFIRM envelope, got %v", env["type"])
		}
		if env["title"] != "Confirmation" {
			t.Errorf("expected default title, got %v", env["title"])
		}
		return fmt.Sprintf(`{"id":%q,"success":true,"approved":true,"button_clicked":"ok"}`, env["id"])
	})

	tool := &ConfirmTool{broker: broker}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"message": "Proceed?"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	out := result.(map[string]interface{})
	if out["approved"] != true {
		t.Errorf("expected approved=true, got %v", out["approved"])
	}
	if out["button_clicked"] != "ok" {
		t.Errorf("expected button_clicked=ok, got %v", out["button_clicked"])
	}
}

func TestConfirmToolDismissedIsNotAnError(t *testing.T) {
	reg, broker := newToolBroker(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		return fmt.Sprintf(`{"id":%q,"success":true,"approved":false}`, env["id"])
	})

	tool := &ConfirmTool{broker: broker}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"message": "Delete everything?"})
	if err != nil {
		t.Fatalf("dismissal must not be an error: %v", err)
	}
	out := result.(map[string]interface{})
	if out["approved"] != false || out["button_clicked"] != "cancel" {
		t.Errorf("unexpected dismissal result: %v", out)
	}
}

func TestAskTool(t *testing.T) {
	tool := &AskTool{}

	t.Run("name", func(t *testing.T) {
		if name := tool.Name(); name != "browtrix_question_popup" {
			t.Errorf("expected name 'browtrix_question_popup', got %q", name)
		}
	})

	t.Run("description", func(t *testing.T) {
		if desc := tool.Description(); desc == "" {
			t.Error("expected non-empty description")
		}
	})

	t.Run("schema", func(t *testing.T) {
		schema := tool.InputSchema()
		if schema == nil {
			t.Error("expected non-nil schema")
		}
	})
}

func TestAskToolValidation(t *testing.T) {
	_, broker := newToolBroker(t)
	tool := &AskTool{broker: broker}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing question", map[string]interface{}{}},
		{"bad input_type", map[string]interface{}{"question": "?", "input_type": "checkbox"}},
		{"bad validation", map[string]interface{}{"question": "?", "validation": "phone"}},
		{"timeout too high", map[string]interface{}{"question": "?", "timeout": float64(999)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tool.Execute(context.Background(), tc.args); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAskToolRoundTrip(t *testing.T) {
	reg, broker := newToolBroker(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		if env["type"] != "ASK" {
			t.Errorf("expected ASK envelope, got %v", env["type"])
		}
		if env["input_type"] != "email" || env["validation"] != "email" {
			t.Errorf("expected input options in envelope, got %v", env)
		}
		return fmt.Sprintf(`{"id":%q,"success":true,"value":"user@example.com","validation_passed":true}`, env["id"])
	})

	tool := &AskTool{broker: broker}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"question":   "What is your email?",
		"input_type": "email",
		"validation": "email",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	out := result.(map[string]interface{})
	if out["value"] != "user@example.com" {
		t.Errorf("unexpected value: %v", out["value"])
	}
	if out["validation_passed"] != true {
		t.Errorf("expected validation_passed=true, got %v", out["validation_passed"])
	}
}
