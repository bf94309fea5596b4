// Package settings loads and validates the pipeline Settings Document: the
// YAML file that selects the active LLM provider and carries per-provider
// parameters plus processing file paths.
package settings

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider selector values recognized by Validate.
const (
	ProviderGroq         = "groq"
	ProviderOpenAI       = "openai"
	ProviderGoogleGemini = "google_gemini"
	ProviderOllama       = "ollama"
)

// Settings is the top-level Settings Document.
type Settings struct {
	Provider     string             `yaml:"provider"`
	Groq         ProviderSettings   `yaml:"groq"`
	OpenAI       ProviderSettings   `yaml:"openai"`
	GoogleGemini ProviderSettings   `yaml:"google_gemini"`
	Ollama       ProviderSettings   `yaml:"ollama"`
	Processing   ProcessingSettings `yaml:"processing"`
}

// ProviderSettings holds one provider configuration block. Fields beyond the
// common four are recognized only by the providers that use them: TopP and
// TopK by google_gemini, ModelPath and OllamaAPIURL by ollama.
type ProviderSettings struct {
	APIKey          string  `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	ModelName       string  `yaml:"model_name"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	ModelPath       string  `yaml:"model_path"`
	OllamaAPIURL    string  `yaml:"ollama_api_url"`
}

// ProcessingSettings holds pipeline file paths and pacing.
type ProcessingSettings struct {
	InputFile            string      `yaml:"input_file"`
	PreprocessedFile     string      `yaml:"preprocessed_file"`
	ProcessedFile        string      `yaml:"processed_file"`
	FinalOutputFile      string      `yaml:"final_output_file"`
	DocumentDB           string      `yaml:"document_db"`
	LogFile              string      `yaml:"log_file"`
	DelayBetweenRequests float64     `yaml:"delay_between_requests"` // seconds
	Processing           bool        `yaml:"processing"`
	SchemaPaths          SchemaPaths `yaml:"schema_paths"`
}

// SchemaPaths maps logical schema names to file paths.
type SchemaPaths struct {
	PreProcessingSchema  string `yaml:"pre_processing_schema"`
	PostprocessingSchema string `yaml:"postprocessing_schema"`
	Prompts              string `yaml:"prompts"`
}

// MissingEnvError reports a ${VAR} placeholder whose variable is not set in
// the process environment.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("settings: environment variable %q is not set", e.Name)
}

// Load reads a YAML file and returns Settings. Environment variables
// referenced as ${VAR} in the YAML are expanded before parsing; an unset
// variable fails with a MissingEnvError so misconfigured secrets surface at
// startup instead of as authentication failures mid-run.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	expanded, err := expandPlaceholders(string(data))
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse: %w", err)
	}

	return s, nil
}

// LoadRaw reads a YAML file without expanding ${VAR} placeholders. It lets
// the check command lint a config without the secrets being present.
func LoadRaw(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse: %w", err)
	}

	return s, nil
}

// expandPlaceholders replaces ${VAR} tokens with values from the process
// environment. "$$" escapes a literal dollar sign. Bare $VAR is left alone;
// the settings files only use the braced form.
func expandPlaceholders(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}

		if i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}

		if i+1 >= len(s) || s[i+1] != '{' {
			b.WriteByte('$')
			continue
		}

		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			return "", fmt.Errorf("settings: unterminated ${ placeholder")
		}

		name := s[i+2 : i+2+end]
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", &MissingEnvError{Name: name}
		}

		b.WriteString(val)
		i += 2 + end
	}

	return b.String(), nil
}

// Block returns the provider settings block with the given name.
func (s Settings) Block(name string) (ProviderSettings, bool) {
	switch name {
	case ProviderGroq:
		return s.Groq, true
	case ProviderOpenAI:
		return s.OpenAI, true
	case ProviderGoogleGemini:
		return s.GoogleGemini, true
	case ProviderOllama:
		return s.Ollama, true
	default:
		return ProviderSettings{}, false
	}
}

// Active returns the provider block selected by the provider key.
func (s Settings) Active() (ProviderSettings, error) {
	if err := s.validateProvider(); err != nil {
		return ProviderSettings{}, err
	}

	ps, _ := s.Block(s.Provider)
	return ps, nil
}

func (s Settings) validateProvider() error {
	if strings.TrimSpace(s.Provider) == "" {
		return fmt.Errorf("settings: provider is required")
	}

	ps, ok := s.Block(s.Provider)
	if !ok {
		return fmt.Errorf("settings: unknown provider %q", s.Provider)
	}

	if s.Provider == ProviderOllama {
		if ps.ModelPath == "" {
			return fmt.Errorf("settings: ollama: model_path is required")
		}
	} else {
		if ps.APIKey == "" {
			return fmt.Errorf("settings: %s: api_key is required", s.Provider)
		}
	}

	if ps.ModelName == "" && s.Provider != ProviderOllama {
		return fmt.Errorf("settings: %s: model_name is required", s.Provider)
	}
	if ps.Temperature < 0 {
		return fmt.Errorf("settings: %s: temperature must not be negative", s.Provider)
	}
	if ps.MaxOutputTokens <= 0 {
		return fmt.Errorf("settings: %s: max_output_tokens must be positive", s.Provider)
	}

	return nil
}

// Validate checks that the settings are internally consistent: the selected
// provider has a usable block and the processing paths are filled in.
func (s Settings) Validate() error {
	if err := s.validateProvider(); err != nil {
		return err
	}

	p := s.Processing
	paths := map[string]string{
		"input_file":        p.InputFile,
		"preprocessed_file": p.PreprocessedFile,
		"processed_file":    p.ProcessedFile,
		"final_output_file": p.FinalOutputFile,
		"document_db":       p.DocumentDB,
		"log_file":          p.LogFile,
	}
	for _, key := range []string{"input_file", "preprocessed_file", "processed_file", "final_output_file", "document_db", "log_file"} {
		if paths[key] == "" {
			return fmt.Errorf("settings: processing: %s is required", key)
		}
	}

	if p.DelayBetweenRequests < 0 {
		return fmt.Errorf("settings: processing: delay_between_requests must not be negative")
	}

	schemas := map[string]string{
		"pre_processing_schema": p.SchemaPaths.PreProcessingSchema,
		"postprocessing_schema": p.SchemaPaths.PostprocessingSchema,
		"prompts":               p.SchemaPaths.Prompts,
	}
	for _, key := range []string{"pre_processing_schema", "postprocessing_schema", "prompts"} {
		path := schemas[key]
		if path == "" {
			return fmt.Errorf("settings: schema_paths: %s is required", key)
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return fmt.Errorf("settings: schema_paths: %s: %q is not a YAML file path", key, path)
		}
	}

	return nil
}

// MaskKey returns a log-safe form of an API key: the first and last four
// runes with "****" between. Keys of eight runes or fewer are fully masked.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return "****"
	}

	return string(r[:4]) + "****" + string(r[len(r)-4:])
}
