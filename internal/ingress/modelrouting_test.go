package ingress

import (
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/dialect"
)

func TestResolveProviderKind_KnownModels(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4", "openai"},
		{"gpt-4o", "openai"},
		{"gpt-3.5-turbo", "openai"},
		{"claude-3-5-sonnet", "anthropic"},
		{"claude-3-opus", "anthropic"},
		{"gemini-pro", "gemini"},
		{"gemini-1.5-pro", "gemini"},
		{"mistral-large", "mistral"},
		{"mixtral-8x7b", "mistral"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := resolveProviderKind(tt.model, "openai")
			if got != tt.expected {
				t.Errorf("resolveProviderKind(%q) = %q, want %q", tt.model, got, tt.expected)
			}
		})
	}
}

func TestResolveProviderKind_UnknownModel_UsesDialectDefault(t *testing.T) {
	tests := []struct {
		dialectDefault string
	}{
		{"openai"}, {"anthropic"}, {"gemini"},
	}
	for _, tt := range tests {
		got := resolveProviderKind("some-unknown-model", tt.dialectDefault)
		if got != tt.dialectDefault {
			t.Errorf("resolveProviderKind(unknown, %q) = %q, want %q", tt.dialectDefault, got, tt.dialectDefault)
		}
	}
}

func TestResolveProviderKind_EmptyString(t *testing.T) {
	got := resolveProviderKind("", "anthropic")
	if got != "anthropic" {
		t.Errorf("resolveProviderKind('') = %q, want 'anthropic'", got)
	}
}

func TestDefaultProviderKind(t *testing.T) {
	tests := []struct {
		kind     dialect.Kind
		expected string
	}{
		{dialect.OpenAI, "openai"},
		{dialect.Anthropic, "anthropic"},
		{dialect.Gemini, "gemini"},
	}
	for _, tt := range tests {
		if got := defaultProviderKind(tt.kind); got != tt.expected {
			t.Errorf("defaultProviderKind(%v) = %q, want %q", tt.kind, got, tt.expected)
		}
	}
}

func TestStripGeminiModelPrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"models/gemini-1.5-pro", "gemini-1.5-pro"},
		{"gemini-1.5-pro", "gemini-1.5-pro"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripGeminiModelPrefix(tt.in); got != tt.want {
			t.Errorf("stripGeminiModelPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
