// Package prompt assembles the completion requests sent to providers and
// extracts JSON payloads from their replies.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/records"
)

// defaultFormatExample is the few-shot tagged form shown to the model when
// structuring unformatted text.
const defaultFormatExample = `<id=1>
<title>Sample Title</title>
<published_date>2024-09-22</published_date>
<categories><Category1><Category2></categories>
<content>
Sample content here.
</content>
</id=1>`

const defaultCleanInstructions = "Process the following record according to the requirements.\n" +
	"Return a single JSON object with the same fields; do not wrap it in markdown or add commentary."

const defaultFormatSystem = "You are a data formatter."

// Prompts holds the prompt fragments used to build requests. Fields left
// empty in the prompts file fall back to the built-in defaults, so the zero
// value is usable.
type Prompts struct {
	FormatSystem      string `yaml:"format_system"`
	FormatExample     string `yaml:"format_example"`
	CleanInstructions string `yaml:"clean_instructions"`
}

// Load reads prompt overrides from a YAML file.
func Load(path string) (Prompts, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Prompts{}, fmt.Errorf("prompt: load: %w", err)
	}

	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("prompt: parse: %w", err)
	}

	return p, nil
}

// Clean builds the record-cleaning request: the schema's
// pre_process_requirements as system instructions and the record as a JSON
// payload, asking for a single JSON object back.
func (p Prompts) Clean(requirements string, rec records.Record) (llm.Request, error) {
	payload, err := rec.JSON()
	if err != nil {
		return llm.Request{}, fmt.Errorf("prompt: %w", err)
	}

	instructions := p.CleanInstructions
	if instructions == "" {
		instructions = defaultCleanInstructions
	}

	return llm.Request{
		System:    requirements,
		User:      strings.TrimSpace(instructions) + "\n\n" + payload,
		ForceJSON: true,
	}, nil
}

// Format builds the request that converts unformatted text into the tagged
// record form.
func (p Prompts) Format(raw string) llm.Request {
	system := p.FormatSystem
	if system == "" {
		system = defaultFormatSystem
	}
	example := p.FormatExample
	if example == "" {
		example = defaultFormatExample
	}

	user := "Convert the following unformatted text into a structured format with tags as shown below.\n" +
		"Output only the tagged record.\n\nExample:\n" + strings.TrimSpace(example) +
		"\n\nUnformatted Text:\n" + raw

	return llm.Request{
		System: system,
		User:   user,
	}
}

// Clean builds the record-cleaning request with the default prompts.
func Clean(requirements string, rec records.Record) (llm.Request, error) {
	return Prompts{}.Clean(requirements, rec)
}

// Format builds the formatting request with the default prompts.
func Format(raw string) llm.Request {
	return Prompts{}.Format(raw)
}

// ParseReply extracts the JSON object payload from a model reply, stripping
// markdown code fences and any prose around the object.
func ParseReply(s string) (string, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("prompt: reply contains no JSON object")
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return "", fmt.Errorf("prompt: reply contains an unterminated JSON object")
	}

	return s[start : end+1], nil
}
