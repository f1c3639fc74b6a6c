package mcp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"
	"github.com/InduwaraSMPN/browtrix/internal/config"
)

func newTestServer(t *testing.T) (*Server, *bridge.Registry, *bridge.Broker) {
	t.Helper()
	reg, broker := newToolBroker(t)
	srv, err := NewServer(config.DefaultConfig(), broker)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, reg, broker
}

func TestServerRegistersAllTools(t *testing.T) {
	srv, _, _ := newTestServer(t)

	want := []string{
		"browtrix_html_snapshot",
		"browtrix_confirmation_alert",
		"browtrix_question_popup",
	}
	if len(srv.tools) != len(want) {
		t.Errorf("expected %d tools, got %d", len(want), len(srv.tools))
	}
	for _, name := range want {
		if _, ok := srv.tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, err := srv.ExecuteTool("browtrix_nonexistent", nil)
	if err == nil || !strings.Contains(err.Error(), "tool not found") {
		t.Errorf("expected tool not found error, got %v", err)
	}
}

func TestExecuteToolRoundTrip(t *testing.T) {
	srv, reg, broker := newTestServer(t)
	fakePage(t, reg, broker, func(env map[string]interface{}) string {
		return fmt.Sprintf(`{"id":%q,"success":true,"approved":true,"button_clicked":"ok"}`, env["id"])
	})

	result, err := srv.ExecuteTool("browtrix_confirmation_alert", map[string]interface{}{
		"message": "Continue?",
	})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	out := result.(map[string]interface{})
	if out["approved"] != true {
		t.Errorf("expected approved=true, got %v", out["approved"])
	}
}

func TestMarshalToolPayload(t *testing.T) {
	payload := marshalToolPayload("browtrix_html_snapshot", map[string]interface{}{"ok": true})
	if string(payload) != `{"ok":true}` {
		t.Errorf("unexpected payload: %s", payload)
	}

	bad := marshalToolPayload("browtrix_html_snapshot", make(chan int))
	if !strings.Contains(string(bad), "non-serializable") {
		t.Errorf("expected fallback payload, got %s", bad)
	}
}
