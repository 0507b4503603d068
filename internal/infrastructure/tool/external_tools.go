package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domaintool "github.com/amplifyco/novaagent/internal/domain/tool"
	"github.com/amplifyco/novaagent/internal/infrastructure/config"
	"go.uber.org/zap"
)

const externalAPITimeout = 30 * time.Second

// restCollaborator is the shared thin HTTP boundary every external
// collaborator tool (calendar, email, social) is built on — a bearer
// token + base URL REST call with a 30s timeout. It never panics on a
// bad response; failures come back as a Result with Success=false so
// the policy gate and dead-letter queue can reason about them.
type restCollaborator struct {
	cfg    config.ExternalAPIConfig
	client *http.Client
}

func newRESTCollaborator(cfg config.ExternalAPIConfig) *restCollaborator {
	return &restCollaborator{cfg: cfg, client: &http.Client{Timeout: externalAPITimeout}}
}

func (r *restCollaborator) configured() bool { return r.cfg.BaseURL != "" }

func (r *restCollaborator) call(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"raw": string(raw)}, nil
	}
	return out, nil
}

// CalendarTool lists, creates, and deletes events on the configured
// calendar REST backend. Mutating operations (create/delete) are
// KindEdit so the policy gate classifies them as irreversible-capable.
type CalendarTool struct {
	rest   *restCollaborator
	logger *zap.Logger
}

// NewCalendarTool builds the calendar collaborator tool.
func NewCalendarTool(cfg config.ExternalAPIConfig, logger *zap.Logger) *CalendarTool {
	return &CalendarTool{rest: newRESTCollaborator(cfg), logger: logger}
}

func (t *CalendarTool) Name() string          { return "calendar" }
func (t *CalendarTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *CalendarTool) Description() string {
	return "Manage calendar events: operation=list_events (start,end), create_event (title,start,end,attendees), or delete_event (event_id)."
}

func (t *CalendarTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation":  map[string]interface{}{"type": "string", "enum": []string{"list_events", "create_event", "delete_event"}},
			"title":      map[string]interface{}{"type": "string"},
			"start":      map[string]interface{}{"type": "string", "description": "RFC3339 start time"},
			"end":        map[string]interface{}{"type": "string", "description": "RFC3339 end time"},
			"attendees":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"event_id":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"operation"},
	}
}

func (t *CalendarTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if !t.rest.configured() {
		return &domaintool.Result{Success: false, Error: "calendar tool is not configured (tools.calendar.base_url empty)"}, nil
	}
	op, _ := args["operation"].(string)
	switch op {
	case "list_events":
		resp, err := t.rest.call(ctx, http.MethodGet, fmt.Sprintf("/events?start=%s&end=%s", args["start"], args["end"]), nil)
		return restResult(resp, err)
	case "create_event":
		resp, err := t.rest.call(ctx, http.MethodPost, "/events", map[string]interface{}{
			"title": args["title"], "start": args["start"], "end": args["end"], "attendees": args["attendees"],
		})
		return restResult(resp, err)
	case "delete_event":
		eventID, _ := args["event_id"].(string)
		if eventID == "" {
			return &domaintool.Result{Success: false, Error: "event_id is required"}, nil
		}
		resp, err := t.rest.call(ctx, http.MethodDelete, "/events/"+eventID, nil)
		return restResult(resp, err)
	default:
		return &domaintool.Result{Success: false, Error: "unknown operation: " + op}, nil
	}
}

// EmailTool sends mail and lists unread messages through the configured
// email REST backend.
type EmailTool struct {
	rest   *restCollaborator
	logger *zap.Logger
}

// NewEmailTool builds the email collaborator tool.
func NewEmailTool(cfg config.ExternalAPIConfig, logger *zap.Logger) *EmailTool {
	return &EmailTool{rest: newRESTCollaborator(cfg), logger: logger}
}

func (t *EmailTool) Name() string          { return "email" }
func (t *EmailTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *EmailTool) Description() string {
	return "Send or read email: operation=send (to,subject,body) or list_unread (limit)."
}

func (t *EmailTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{"type": "string", "enum": []string{"send", "list_unread"}},
			"to":        map[string]interface{}{"type": "string"},
			"subject":   map[string]interface{}{"type": "string"},
			"body":      map[string]interface{}{"type": "string"},
			"limit":     map[string]interface{}{"type": "integer"},
		},
		"required": []string{"operation"},
	}
}

func (t *EmailTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if !t.rest.configured() {
		return &domaintool.Result{Success: false, Error: "email tool is not configured (tools.email.base_url empty)"}, nil
	}
	op, _ := args["operation"].(string)
	switch op {
	case "send":
		resp, err := t.rest.call(ctx, http.MethodPost, "/send", map[string]interface{}{
			"to": args["to"], "subject": args["subject"], "body": args["body"],
		})
		return restResult(resp, err)
	case "list_unread":
		resp, err := t.rest.call(ctx, http.MethodGet, fmt.Sprintf("/unread?limit=%v", args["limit"]), nil)
		return restResult(resp, err)
	default:
		return &domaintool.Result{Success: false, Error: "unknown operation: " + op}, nil
	}
}

// SocialTool posts and reads mentions on a configured social network
// REST backend (X or LinkedIn — one tool instance per network, chosen at
// construction, since the two APIs never share a backend).
type SocialTool struct {
	network string
	rest    *restCollaborator
	logger  *zap.Logger
}

// NewSocialTool builds a social-network collaborator tool. network is
// "x" or "linkedin" and only affects naming/description.
func NewSocialTool(network string, cfg config.ExternalAPIConfig, logger *zap.Logger) *SocialTool {
	return &SocialTool{network: network, rest: newRESTCollaborator(cfg), logger: logger}
}

func (t *SocialTool) Name() string          { return "social_" + t.network }
func (t *SocialTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *SocialTool) Description() string {
	return fmt.Sprintf("Post or read %s: operation=post (text) or read_mentions (limit).", strings.ToUpper(t.network))
}

func (t *SocialTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{"type": "string", "enum": []string{"post", "read_mentions"}},
			"text":      map[string]interface{}{"type": "string"},
			"limit":     map[string]interface{}{"type": "integer"},
		},
		"required": []string{"operation"},
	}
}

func (t *SocialTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if !t.rest.configured() {
		return &domaintool.Result{Success: false, Error: t.Name() + " tool is not configured (base_url empty)"}, nil
	}
	op, _ := args["operation"].(string)
	switch op {
	case "post":
		text, _ := args["text"].(string)
		if text == "" {
			return &domaintool.Result{Success: false, Error: "text is required"}, nil
		}
		resp, err := t.rest.call(ctx, http.MethodPost, "/post", map[string]interface{}{"text": text})
		return restResult(resp, err)
	case "read_mentions":
		resp, err := t.rest.call(ctx, http.MethodGet, fmt.Sprintf("/mentions?limit=%v", args["limit"]), nil)
		return restResult(resp, err)
	default:
		return &domaintool.Result{Success: false, Error: "unknown operation: " + op}, nil
	}
}

func restResult(resp map[string]interface{}, err error) (*domaintool.Result, error) {
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	raw, _ := json.Marshal(resp)
	return &domaintool.Result{Success: true, Output: string(raw), Metadata: resp}, nil
}
