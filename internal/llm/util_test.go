package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "fenced with language",
			input: "```json\n{\"positions\":[{\"id\":\"J1\"}]}\n```",
			want:  `{"positions":[{"id":"J1"}]}`,
		},
		{
			name:  "fenced without language",
			input: "```\n{\"subject\":\"s\"}\n```",
			want:  `{"subject":"s"}`,
		},
		{
			name:  "fence opening directly on the object",
			input: "```{\"note\":\"n\"}```",
			want:  `{"note":"n"}`,
		},
		{
			name:  "surrounding whitespace",
			input: "\n\n  {\"id\":\"J1\"}  \n",
			want:  `{"id":"J1"}`,
		},
		{
			name:  "preamble before object",
			input: "以下が候補者に合う求人です。\n{\"positions\":[]}",
			want:  `{"positions":[]}`,
		},
		{
			name:  "trailing prose after object",
			input: "{\"subject\":\"s\"}\nLet me know if you need changes.",
			want:  `{"subject":"s"}`,
		},
		{
			name:  "bare array",
			input: "Here you go: [{\"id\":\"J1\"},{\"id\":\"J2\"}] done",
			want:  `[{"id":"J1"},{"id":"J2"}]`,
		},
		{
			name:  "plain text is returned as is",
			input: "田中様\nはじめまして",
			want:  "田中様\nはじめまして",
		},
		{
			name:  "unbalanced object is returned trimmed",
			input: "{\"positions\": [",
			want:  "{\"positions\": [",
		},
		{
			name:  "empty",
			input: "   ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "田中様\nぜひ", StripCodeFence("```text\n田中様\nぜひ\n```"))
	assert.Equal(t, "hello", StripCodeFence("```\nhello\n```"))
	assert.Equal(t, "plain {x}", StripCodeFence("  plain {x} "), "braces in plain text are kept")
	assert.Equal(t, "one line", StripCodeFence("```one line```"))
}

func TestExtractBalanced(t *testing.T) {
	tests := []struct {
		name  string
		input string
		open  byte
		close byte
		want  string
	}{
		{"nested objects", `{"a":{"b":{"c":1}}} tail`, '{', '}', `{"a":{"b":{"c":1}}}`},
		{"braces inside strings", `{"note":"use {姓} here }"} x`, '{', '}', `{"note":"use {姓} here }"}`},
		{"escaped quote in string", `{"s":"say \"}\" ok"}`, '{', '}', `{"s":"say \"}\" ok"}`},
		{"nested arrays", `[[1,2],[3]] rest`, '[', ']', `[[1,2],[3]]`},
		{"brackets inside strings", `["a]b", "c"]`, '[', ']', `["a]b", "c"]`},
		{"wrong opener", `x{"a":1}`, '{', '}', ""},
		{"never closes", `{"a":`, '{', '}', ""},
		{"empty", ``, '[', ']', ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractBalanced(tt.input, tt.open, tt.close))
		})
	}
}

func TestExtractJSON_DispatchesOnFirstByte(t *testing.T) {
	assert.Equal(t, `[1]`, extractJSON(`[1] x`))
	assert.Equal(t, `{"a":1}`, extractJSON(`{"a":1} x`))
	assert.Empty(t, extractJSON(`"just a string"`))
}
