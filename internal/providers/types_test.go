package providers_test

import (
	"testing"

	"github.com/kavyleancoder/meepo/internal/providers"
)

func TestTextBlockRoundTrip(t *testing.T) {
	b := providers.TextBlock("hello")
	if b.Kind != providers.BlockText || b.Text != "hello" {
		t.Fatalf("unexpected text block: %#v", b)
	}
}

func TestToolCallBlockCarriesRawInput(t *testing.T) {
	b := providers.ToolCallBlock("call-1", "read_file", []byte(`{"path":"/tmp/x"}`))
	if b.Kind != providers.BlockToolCall || b.ToolCallID != "call-1" || b.ToolName != "read_file" {
		t.Fatalf("unexpected tool call block: %#v", b)
	}
	if string(b.ToolInputRaw) != `{"path":"/tmp/x"}` {
		t.Fatalf("unexpected raw input: %s", b.ToolInputRaw)
	}
}

func TestToolResultBlockCarriesErrorFlag(t *testing.T) {
	b := providers.ToolResultBlock("call-1", "boom", true)
	if !b.ToolResultError || b.ToolResultForID != "call-1" || b.ToolResultText != "boom" {
		t.Fatalf("unexpected tool result block: %#v", b)
	}
}
