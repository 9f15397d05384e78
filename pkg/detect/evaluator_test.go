package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TrustMeshAI/bastion/pkg/audit"
)

// chatServer returns an OpenAI-compatible stub answering every completion
// with the given content.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStubbedEvaluator(t *testing.T, content string) *LLMEvaluator {
	srv := chatServer(t, content)
	return NewLLMEvaluator(EvaluatorConfig{Provider: ProviderOllama, BaseURL: srv.URL})
}

func TestLLMEvaluatorVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		response string
		detected bool
		action   string
		severity audit.Severity
	}{
		{
			name:     "malicious blocks",
			response: `{"class": "MALICIOUS", "confidence": 0.9, "reason": "override attempt"}`,
			detected: true,
			action:   ActionBlock,
			severity: audit.SeverityHigh,
		},
		{
			name:     "high-confidence malicious is critical",
			response: `{"class": "MALICIOUS", "confidence": 0.97, "reason": "explicit jailbreak"}`,
			detected: true,
			action:   ActionBlock,
			severity: audit.SeverityCritical,
		},
		{
			name:     "suspicious requires verification",
			response: `{"class": "SUSPICIOUS", "confidence": 0.6, "reason": "unusual phrasing"}`,
			detected: true,
			action:   ActionRequireVerification,
			severity: audit.SeverityMedium,
		},
		{
			name:     "benign passes",
			response: `{"class": "BENIGN", "confidence": 0.95, "reason": "normal request"}`,
			detected: false,
		},
		{
			name:     "json wrapped in prose still parses",
			response: "Here is my analysis:\n```json\n{\"class\": \"MALICIOUS\", \"confidence\": 0.8, \"reason\": \"x\"}\n```",
			detected: true,
			action:   ActionBlock,
			severity: audit.SeverityHigh,
		},
		{
			name:     "guard model safe verdict",
			response: "safe",
			detected: false,
		},
		{
			name:     "guard model unsafe verdict",
			response: "unsafe\nS14",
			detected: true,
			action:   ActionBlock,
			severity: audit.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := newStubbedEvaluator(t, tt.response)
			check, err := ev.Evaluate(context.Background(), "some message", nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if check.Detected != tt.detected {
				t.Fatalf("detected = %v, want %v (%+v)", check.Detected, tt.detected, check)
			}
			if !tt.detected {
				if check.Action != ActionAllow {
					t.Errorf("action = %q, want %q", check.Action, ActionAllow)
				}
				return
			}
			if check.Action != tt.action {
				t.Errorf("action = %q, want %q", check.Action, tt.action)
			}
			if check.Severity != tt.severity {
				t.Errorf("severity = %q, want %q", check.Severity, tt.severity)
			}
		})
	}
}

func TestLLMEvaluatorGarbageResponse(t *testing.T) {
	ev := newStubbedEvaluator(t, "I cannot classify this message.")
	if _, err := ev.Evaluate(context.Background(), "some message", nil); err == nil {
		t.Error("expected error for unparseable verdict")
	}
}

func TestLLMEvaluatorAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	ev := NewLLMEvaluator(EvaluatorConfig{Provider: ProviderOllama, BaseURL: srv.URL})
	if _, err := ev.Evaluate(context.Background(), "some message", nil); err == nil {
		t.Error("expected error after exhausted retries")
	}
}

func TestLLMEvaluatorSendsContext(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"class\":\"BENIGN\",\"confidence\":1,\"reason\":\"ok\"}"}}]}`)
	}))
	t.Cleanup(srv.Close)

	ev := NewLLMEvaluator(EvaluatorConfig{Provider: ProviderOllama, BaseURL: srv.URL, Model: "test-model"})
	if _, err := ev.Evaluate(context.Background(), "hello", map[string]string{"room": "general"}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if gotBody.Model != "test-model" {
		t.Errorf("model = %q, want test-model", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system+user pair", gotBody.Messages)
	}
	user := gotBody.Messages[1].Content
	for _, want := range []string{"INPUT: hello", "CONTEXT room: general"} {
		if !strings.Contains(user, want) {
			t.Errorf("user content %q missing %q", user, want)
		}
	}
}

func TestLLMEvaluatorReadiness(t *testing.T) {
	if !NewLLMEvaluator(EvaluatorConfig{Provider: ProviderOllama}).IsReady() {
		t.Error("ollama evaluator should be ready without a key")
	}
	if NewLLMEvaluator(EvaluatorConfig{Provider: ProviderGroq}).IsReady() {
		t.Error("groq evaluator should not be ready without a key")
	}
	if !NewLLMEvaluator(EvaluatorConfig{Provider: ProviderGroq, APIKey: "gsk_x"}).IsReady() {
		t.Error("groq evaluator with a key should be ready")
	}
	var nilEval *LLMEvaluator
	if nilEval.IsReady() {
		t.Error("nil evaluator reported ready")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"class": "BENIGN"}`, `{"class": "BENIGN"}`},
		{"```json\n{\"class\": \"BENIGN\"}\n```", `{"class": "BENIGN"}`},
		{"verdict follows: {\"a\": 1} thanks", `{"a": 1}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
