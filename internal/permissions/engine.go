// Package permissions maps (tool, tier, input) to an allow / approve /
// deny decision. The dangerous-substring scan recurses through the
// whole input document, so a payload cannot hide a blocked pattern
// inside a nested array or object.
package permissions

import (
	"encoding/json"
	"strings"
)

// Tier is the permission class a tool's author assigns to it.
type Tier string

const (
	TierRead           Tier = "read"
	TierWrite          Tier = "write"
	TierExecute        Tier = "execute"
	TierSystemCritical Tier = "system_critical"
)

// Decision values.
const (
	DecisionAllow           = "ALLOW"
	DecisionDeny            = "DENY"
	DecisionRequireApproval = "REQUIRE_APPROVAL"
)

// Result is the outcome of a permission check. Reason is set for Deny
// and RequireApproval.
type Result struct {
	Decision string
	Reason   string
}

// Request carries everything the engine needs for one check.
type Request struct {
	SessionKey string
	ToolName   string
	Input      json.RawMessage
	Tier       Tier
}

// Engine applies the dangerous-pattern scan then the tier policy.
type Engine struct {
	blockedPatterns []string
}

// DefaultBlockedPatterns are substrings that deny a request wherever
// they appear in the tool name or input.
func DefaultBlockedPatterns() []string {
	return []string{
		"rm -rf",
		"sudo",
		"chmod",
		"dd if=",
		"mkfs",
		"shutdown",
		"reboot",
		"init 0",
		"init 6",
		"curl | sh",
		"curl|sh",
		":(){ :|:& };:",
	}
}

// NewEngine creates an engine with the default pattern set.
func NewEngine() *Engine {
	return &Engine{blockedPatterns: DefaultBlockedPatterns()}
}

// NewEngineWithPatterns creates an engine with a custom pattern set.
func NewEngineWithPatterns(patterns []string) *Engine {
	return &Engine{blockedPatterns: patterns}
}

// AddBlockedPattern appends a pattern. Not safe for concurrent use with
// Check; configure before serving.
func (e *Engine) AddBlockedPattern(pattern string) {
	e.blockedPatterns = append(e.blockedPatterns, pattern)
}

// Check applies, in order: dangerous-substring scan over the tool name
// and every string in the input (recursing into arrays and objects),
// then the tier mapping.
func (e *Engine) Check(req Request) Result {
	if pattern := e.findBlocked(req.ToolName); pattern != "" {
		return Result{Decision: DecisionDeny, Reason: "blocked pattern: " + pattern}
	}

	var doc any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &doc); err == nil {
			if pattern := e.scanValue(doc); pattern != "" {
				return Result{Decision: DecisionDeny, Reason: "blocked pattern: " + pattern}
			}
		} else {
			// Unparseable input still gets the raw-bytes scan.
			if pattern := e.findBlocked(string(req.Input)); pattern != "" {
				return Result{Decision: DecisionDeny, Reason: "blocked pattern: " + pattern}
			}
		}
	}

	if req.Tier == TierSystemCritical {
		return Result{Decision: DecisionRequireApproval, Reason: "system-critical tool requires approval"}
	}
	return Result{Decision: DecisionAllow}
}

func (e *Engine) scanValue(v any) string {
	switch val := v.(type) {
	case string:
		return e.findBlocked(val)
	case []any:
		for _, item := range val {
			if p := e.scanValue(item); p != "" {
				return p
			}
		}
	case map[string]any:
		for key, item := range val {
			if p := e.findBlocked(key); p != "" {
				return p
			}
			if p := e.scanValue(item); p != "" {
				return p
			}
		}
	}
	return ""
}

func (e *Engine) findBlocked(s string) string {
	lower := strings.ToLower(s)
	for _, pattern := range e.blockedPatterns {
		if strings.Contains(lower, pattern) {
			return pattern
		}
	}
	return ""
}
