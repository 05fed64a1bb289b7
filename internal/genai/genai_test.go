package genai

import (
	"testing"

	"github.com/openai/openai-go"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when OPENAI_API_KEY not set")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.model != openai.ChatModelGPT4oMini {
		t.Errorf("expected default model, got %s", c.model)
	}
}

func TestNewClientModelOverride(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"), WithModel(openai.ChatModelGPT4o))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.model != openai.ChatModelGPT4o {
		t.Errorf("expected overridden model, got %s", c.model)
	}
}
