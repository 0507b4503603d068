package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RiskLevel classifies a (tool, operation) pair's blast radius.
type RiskLevel string

const (
	RiskRead        RiskLevel = "read"
	RiskWrite       RiskLevel = "write"
	RiskIrreversible RiskLevel = "irreversible"
)

const perToolCallCap = 20

// toolOpKey is the risk-table lookup key; Op == "" matches the tool's
// "_default" entry.
type toolOpKey struct {
	Tool string
	Op   string
}

// PolicyGate implements the per-tool risk classification, per-run call
// cap, and sanitized-logging contract of §4.5. One PolicyGate instance is
// shared process-wide; ResetCounters is called at the start of each
// conversation turn and each task run (§5 shared-resource policy).
type PolicyGate struct {
	mu       sync.Mutex
	risks    map[toolOpKey]RiskLevel
	counters map[string]int // tool name -> calls this run
	strict   bool
	logger   *zap.Logger
}

// NewPolicyGate creates a gate with the given risk table and strict-mode
// flag (strict mode blocks irreversible calls unless an approval token is
// present for the turn).
func NewPolicyGate(risks map[toolOpKey]RiskLevel, strict bool, logger *zap.Logger) *PolicyGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyGate{
		risks:    risks,
		counters: make(map[string]int),
		strict:   strict,
		logger:   logger,
	}
}

// RiskTableKey builds a lookup key for SetRisk/risk table construction.
func RiskTableKey(tool, op string) toolOpKey { return toolOpKey{Tool: tool, Op: op} }

// SetRisk registers a (tool, op) → risk mapping. Pass op="" to set the
// tool's default for operations with no explicit entry.
func (g *PolicyGate) SetRisk(tool, op string, level RiskLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.risks[toolOpKey{Tool: tool, Op: op}] = level
}

func (g *PolicyGate) riskOf(tool, op string) RiskLevel {
	if level, ok := g.risks[toolOpKey{Tool: tool, Op: op}]; ok {
		return level
	}
	if level, ok := g.risks[toolOpKey{Tool: tool, Op: ""}]; ok {
		return level
	}
	return RiskWrite // unknown ops default conservatively to write
}

// RiskOf exposes the risk classification for a (tool, op) pair without
// touching the per-run call counters — used by the policy gate hook to
// decide whether a call is even eligible for outbox dedup (§4.6).
func (g *PolicyGate) RiskOf(tool, op string) RiskLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.riskOf(tool, op)
}

// Check implements `check(tool, operation, params, trace_id) → (allowed, reason)`.
// approvalToken is non-empty when the current turn carries confirmed
// approval (strict-mode bypass for irreversible calls).
func (g *PolicyGate) Check(tool, op string, params map[string]interface{}, traceID, approvalToken string) (bool, string, RiskLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	risk := g.riskOf(tool, op)

	if g.counters[tool] >= perToolCallCap {
		g.logger.Warn("policy gate: per-run call cap exceeded",
			zap.String("tool", tool), zap.String("trace_id", traceID))
		return false, "exceeded", risk
	}

	if risk == RiskIrreversible {
		g.logger.Info("policy gate: irreversible call",
			zap.String("tool", tool), zap.String("op", op),
			zap.String("trace_id", traceID),
			zap.String("params", sanitizeParams(params)),
		)
		if g.strict && approvalToken == "" {
			return false, "strict mode requires approval", risk
		}
	}

	g.counters[tool]++
	return true, "", risk
}

// ResetCounters zeroes the per-tool call counters — called at the start
// of each conversation turn and each task run.
func (g *PolicyGate) ResetCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters = make(map[string]int)
}

// sanitizeParams renders params as JSON with each string value truncated
// to 100 characters (§4.5 logging contract).
func sanitizeParams(params map[string]interface{}) string {
	sanitized := make(map[string]interface{}, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok && len(s) > 100 {
			sanitized[k] = s[:100] + "..."
		} else {
			sanitized[k] = v
		}
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return "<unserializable params>"
	}
	return string(data)
}

// DefaultRiskTable is the per-tool-per-op risk classification for the
// built-in C11 external-collaborator tool set (calendar, email, social_x,
// social_linkedin, schedule_reminder, web_fetch, bash), grounded on the
// original's policy_gate.py table shape. Unlisted ops fall to the tool's
// "_default" ("") entry; unlisted tools default to RiskWrite via
// riskOf's fallback.
func DefaultRiskTable() map[toolOpKey]RiskLevel {
	return map[toolOpKey]RiskLevel{
		RiskTableKey("calendar", "list_events"):  RiskRead,
		RiskTableKey("calendar", "create_event"): RiskWrite,
		RiskTableKey("calendar", "delete_event"): RiskIrreversible,
		RiskTableKey("calendar", ""):             RiskRead,

		RiskTableKey("email", "list_unread"): RiskRead,
		RiskTableKey("email", "send"):        RiskIrreversible,
		RiskTableKey("email", ""):            RiskRead,

		RiskTableKey("social_x", "read_mentions"): RiskRead,
		RiskTableKey("social_x", "post"):          RiskIrreversible,
		RiskTableKey("social_x", ""):              RiskRead,

		RiskTableKey("social_linkedin", "read_mentions"): RiskRead,
		RiskTableKey("social_linkedin", "post"):          RiskIrreversible,
		RiskTableKey("social_linkedin", ""):              RiskRead,

		RiskTableKey("web_fetch", ""): RiskRead,

		RiskTableKey("bash", ""): RiskWrite,

		RiskTableKey("schedule_reminder", ""): RiskWrite,
	}
}

// IdempotencyKey computes hash(tool ∥ operation ∥ sorted(args)) — the
// outbox's dedup fingerprint (§3, §4.6). args must contain no wall-clock
// or random bits; the caller supplies exactly the arguments the tool was
// invoked with.
func IdempotencyKey(tool, op string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		fmt.Fprintf(h, "%v", args[k])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
