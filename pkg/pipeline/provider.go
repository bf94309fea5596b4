package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/llm/gemini"
	"github.com/datakiln/refinery/pkg/llm/groq"
	"github.com/datakiln/refinery/pkg/llm/ollama"
	"github.com/datakiln/refinery/pkg/llm/openai"
	"github.com/datakiln/refinery/pkg/settings"
)

// ProviderFactory creates a Completer from a provider settings block.
type ProviderFactory func(ps settings.ProviderSettings) (llm.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories[settings.ProviderGroq] = newGroq
		factories[settings.ProviderOpenAI] = newOpenAI
		factories[settings.ProviderGoogleGemini] = newGemini
		factories[settings.ProviderOllama] = newOllama
	})
}

// RegisterProvider registers a custom provider factory under the given name.
// It can be called before New to extend the pipeline with additional
// providers or to redirect a provider at a test server.
func RegisterProvider(name string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[name] = factory
}

// getFactory returns the factory for the given provider name.
func getFactory(name string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[name]
	return f, ok
}

func newGroq(ps settings.ProviderSettings) (llm.Completer, error) {
	a := groq.New(ps.APIKey, nil)
	a.Name = ps.ModelName
	a.Temperature = ps.Temperature
	if ps.MaxOutputTokens > 0 {
		a.MaxOutputTokens = ps.MaxOutputTokens
	}

	return a, nil
}

func newOpenAI(ps settings.ProviderSettings) (llm.Completer, error) {
	a := openai.New("https://api.openai.com", ps.APIKey, ps.ModelName)
	a.Temperature = ps.Temperature
	if ps.MaxOutputTokens > 0 {
		a.MaxOutputTokens = ps.MaxOutputTokens
	}

	return a, nil
}

func newGemini(ps settings.ProviderSettings) (llm.Completer, error) {
	a := gemini.New("https://generativelanguage.googleapis.com", ps.APIKey, ps.ModelName)
	a.Temperature = ps.Temperature
	a.TopP = ps.TopP
	a.TopK = ps.TopK
	if ps.MaxOutputTokens > 0 {
		a.MaxOutputTokens = ps.MaxOutputTokens
	}

	return a, nil
}

func newOllama(ps settings.ProviderSettings) (llm.Completer, error) {
	a := ollama.New(ps.OllamaAPIURL, ps.ModelPath)
	a.Temperature = ps.Temperature
	if ps.MaxOutputTokens > 0 {
		a.MaxOutputTokens = ps.MaxOutputTokens
	}

	return a, nil
}

// buildCompleter creates the Completer for the selected provider, wrapped
// with pacing from delay_between_requests.
func buildCompleter(s settings.Settings) (llm.Completer, error) {
	factory, ok := getFactory(s.Provider)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown provider %q", s.Provider)
	}

	// Custom registered providers have no settings block; they get a zero
	// value and read their own configuration.
	ps, _ := s.Block(s.Provider)

	c, err := factory(ps)
	if err != nil {
		return nil, err
	}

	delay := time.Duration(s.Processing.DelayBetweenRequests * float64(time.Second))

	return llm.NewPacedCompleter(c, llm.PaceOpts{Delay: delay}), nil
}
