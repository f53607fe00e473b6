package openai_test

import (
	"testing"

	"github.com/rpgscribe/rpgscribe/pkg/provider/stt/openai"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNewAppliesOptions(t *testing.T) {
	p, err := openai.New("sk-test", openai.WithModel("whisper-1"), openai.WithBaseURL("http://localhost:9999/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p == nil {
		t.Fatal("New returned nil provider")
	}
}
