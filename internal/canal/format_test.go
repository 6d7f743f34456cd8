package canal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMrkdwn(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"bold", "**important**", "*important*"},
		{"header", "## Results", "*Results*"},
		{"header with bold", "# **Done**", "*Done*"},
		{"strikethrough", "~~old~~", "~old~"},
		{"link", "[docs](https://example.com)", "<https://example.com|docs>"},
		{"image", "![logo](https://example.com/x.png)", "<https://example.com/x.png|logo>"},
		{"plain", "nothing special", "nothing special"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMrkdwn(tt.input))
		})
	}
}

func TestFormatMrkdwn_Tables(t *testing.T) {
	input := "Summary:\n| Name | Count |\n|------|-------|\n| foo | 1 |\n| bar | 2 |\ndone"
	want := "Summary:\n• *Name:* foo · *Count:* 1\n• *Name:* bar · *Count:* 2\ndone"
	assert.Equal(t, want, FormatMrkdwn(input))
}

func TestFormatMrkdwn_SingleColumnTable(t *testing.T) {
	input := "| Item |\n|------|\n| a |\n| b |"
	assert.Equal(t, "• a\n• b", FormatMrkdwn(input))
}

func TestFormatMrkdwn_PipeWithoutDividerIsNotATable(t *testing.T) {
	input := "either | or"
	assert.Equal(t, input, FormatMrkdwn(input))
}

func TestFormatMrkdwn_TableInsideCodeBlockUntouched(t *testing.T) {
	input := "```\n| Name |\n|------|\n| raw |\n```"
	assert.Equal(t, input, FormatMrkdwn(input))
}

func TestFormatMrkdwn_CodeBlocksUntouched(t *testing.T) {
	input := "before\n```\n**not bold** [no](link)\n```\nafter **bold**"
	got := FormatMrkdwn(input)

	assert.Contains(t, got, "**not bold** [no](link)")
	assert.Contains(t, got, "after *bold*")
}

func TestFormatMrkdwn_MultipleCodeBlocks(t *testing.T) {
	input := "```a```\n**x**\n```b```"
	got := FormatMrkdwn(input)

	assert.Contains(t, got, "```a```")
	assert.Contains(t, got, "```b```")
	assert.Contains(t, got, "*x*")
}
