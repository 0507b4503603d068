package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amplifyco/novaagent/internal/infrastructure/config"
	"go.uber.org/zap"
)

func TestCalendarTool_Execute_NotConfiguredWithoutBaseURL(t *testing.T) {
	tool := NewCalendarTool(config.ExternalAPIConfig{}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"operation": "list_events"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure when base_url is empty")
	}
}

func TestCalendarTool_Execute_ListEventsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/events") {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	tool := NewCalendarTool(config.ExternalAPIConfig{BaseURL: srv.URL, Token: "tok"}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"operation": "list_events", "start": "2026-08-01T00:00:00Z", "end": "2026-08-02T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
}

func TestCalendarTool_Execute_DeleteEventRequiresID(t *testing.T) {
	tool := NewCalendarTool(config.ExternalAPIConfig{BaseURL: "http://example.invalid"}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"operation": "delete_event"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure when event_id is missing")
	}
}

func TestCalendarTool_Execute_UnknownOperation(t *testing.T) {
	tool := NewCalendarTool(config.ExternalAPIConfig{BaseURL: "http://example.invalid"}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"operation": "bogus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure for unknown operation")
	}
}

func TestCalendarTool_Execute_SurfacesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	tool := NewCalendarTool(config.ExternalAPIConfig{BaseURL: srv.URL}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"operation": "list_events", "start": "a", "end": "b",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure when the backend returns a 500")
	}
	if !strings.Contains(res.Error, "status 500") {
		t.Errorf("expected status code in error message, got %q", res.Error)
	}
}

func TestCalendarTool_NameKindDescription(t *testing.T) {
	tool := NewCalendarTool(config.ExternalAPIConfig{}, zap.NewNop())
	if tool.Name() != "calendar" {
		t.Errorf("expected name calendar, got %q", tool.Name())
	}
	if tool.Description() == "" {
		t.Error("expected a non-empty description")
	}
}

func TestEmailTool_Execute_SendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool := NewEmailTool(config.ExternalAPIConfig{BaseURL: srv.URL}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"operation": "send", "to": "a@b.com", "subject": "hi", "body": "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
}

func TestEmailTool_Execute_NotConfigured(t *testing.T) {
	tool := NewEmailTool(config.ExternalAPIConfig{}, zap.NewNop())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"operation": "list_unread"})
	if res.Success {
		t.Error("expected failure when base_url is empty")
	}
}

func TestEmailTool_Execute_UnknownOperation(t *testing.T) {
	tool := NewEmailTool(config.ExternalAPIConfig{BaseURL: "http://example.invalid"}, zap.NewNop())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"operation": "bogus"})
	if res.Success {
		t.Error("expected failure for unknown operation")
	}
}

func TestSocialTool_Execute_PostRequiresText(t *testing.T) {
	tool := NewSocialTool("x", config.ExternalAPIConfig{BaseURL: "http://example.invalid"}, zap.NewNop())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"operation": "post"})
	if res.Success {
		t.Error("expected failure when text is missing")
	}
}

func TestSocialTool_Execute_PostSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"123"}`))
	}))
	defer srv.Close()

	tool := NewSocialTool("linkedin", config.ExternalAPIConfig{BaseURL: srv.URL}, zap.NewNop())
	res, err := tool.Execute(context.Background(), map[string]interface{}{"operation": "post", "text": "hello world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
}

func TestSocialTool_Name_IncludesNetwork(t *testing.T) {
	tool := NewSocialTool("x", config.ExternalAPIConfig{}, zap.NewNop())
	if tool.Name() != "social_x" {
		t.Errorf("expected name social_x, got %q", tool.Name())
	}
}

func TestSocialTool_Execute_NotConfigured(t *testing.T) {
	tool := NewSocialTool("x", config.ExternalAPIConfig{}, zap.NewNop())
	res, _ := tool.Execute(context.Background(), map[string]interface{}{"operation": "read_mentions"})
	if res.Success {
		t.Error("expected failure when base_url is empty")
	}
	if !strings.Contains(res.Error, "social_x") {
		t.Errorf("expected the tool name in the error, got %q", res.Error)
	}
}
