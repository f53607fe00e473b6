package openai

import (
	"strings"
	"testing"

	"github.com/rpgscribe/rpgscribe/pkg/types"
)

func TestToMessageParamRoles(t *testing.T) {
	sys, err := toMessageParam(types.Message{Role: "system", Content: "be brief"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: err=%v OfSystem=%v", err, sys.OfSystem)
	}

	usr, err := toMessageParam(types.Message{Role: "user", Content: "hello"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: err=%v OfUser=%v", err, usr.OfUser)
	}

	asst, err := toMessageParam(types.Message{Role: "assistant", Content: "hi"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: err=%v OfAssistant=%v", err, asst.OfAssistant)
	}

	tool, err := toMessageParam(types.Message{Role: "tool", Content: "sunny", ToolCallID: "call_1"})
	if err != nil || tool.OfTool == nil {
		t.Fatalf("tool: err=%v OfTool=%v", err, tool.OfTool)
	}
	if tool.OfTool.ToolCallID != "call_1" {
		t.Errorf("tool call ID = %q", tool.OfTool.ToolCallID)
	}

	if _, err := toMessageParam(types.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Error("unknown role did not error")
	}
}

func TestToMessageParamAssistantToolCalls(t *testing.T) {
	param, err := toMessageParam(types.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Berlin"}`},
		},
	})
	if err != nil {
		t.Fatalf("toMessageParam: %v", err)
	}
	if param.OfAssistant == nil || len(param.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("tool calls not carried over: %+v", param.OfAssistant)
	}
	tc := param.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "get_weather" || tc.Function.Arguments != `{"city":"Berlin"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestModelCapabilitiesTable(t *testing.T) {
	cases := []struct {
		model       string
		wantWindow  int
		wantVision  bool
		wantTooling bool
	}{
		{"gpt-4o-mini", 128_000, true, true},
		{"gpt-4o", 128_000, true, true},
		{"gpt-4", 8_192, false, true},
		{"gpt-3.5-turbo", 16_385, false, true},
		{"o1-mini", 128_000, false, false},
		{"o3", 200_000, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.wantWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.wantWindow)
			}
			if caps.SupportsVision != tc.wantVision {
				t.Errorf("SupportsVision = %v", caps.SupportsVision)
			}
			if caps.SupportsToolCalling != tc.wantTooling {
				t.Errorf("SupportsToolCalling = %v", caps.SupportsToolCalling)
			}
			if !caps.SupportsStreaming || caps.MaxOutputTokens <= 0 {
				t.Errorf("caps = %+v, want streaming and positive MaxOutputTokens", caps)
			}
		})
	}
}

func TestModelCapabilitiesUnknownModelGetsDefaults(t *testing.T) {
	caps := modelCapabilities("my-custom-model")
	if caps.ContextWindow <= 0 || caps.MaxOutputTokens <= 0 {
		t.Errorf("unknown model caps = %+v, want positive budgets", caps)
	}
}

func TestCountTokensScalesWithContent(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	short, err := p.CountTokens([]types.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	long, err := p.CountTokens([]types.Message{{Role: "user", Content: strings.Repeat("narrative ", 100)}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if short <= 0 || long <= short {
		t.Errorf("short=%d long=%d, want positive and increasing", short, long)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty API key accepted")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("empty model accepted")
	}
	if _, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://gateway.example.com"),
		WithOrganization("org-123"),
	); err != nil {
		t.Errorf("valid construction failed: %v", err)
	}
}
