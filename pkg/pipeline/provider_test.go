package pipeline

import (
	"context"
	"testing"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFactory_Defaults(t *testing.T) {
	for _, name := range []string{
		settings.ProviderGroq,
		settings.ProviderOpenAI,
		settings.ProviderGoogleGemini,
		settings.ProviderOllama,
	} {
		_, ok := getFactory(name)
		assert.True(t, ok, name)
	}

	_, ok := getFactory("anthropic")
	assert.False(t, ok)
}

type staticCompleter struct{ reply string }

func (c staticCompleter) Complete(context.Context, llm.Request) (string, error) {
	return c.reply, nil
}

func TestRegisterProvider(t *testing.T) {
	RegisterProvider("static", func(settings.ProviderSettings) (llm.Completer, error) {
		return staticCompleter{reply: "ok"}, nil
	})

	f, ok := getFactory("static")
	require.True(t, ok)

	c, err := f(settings.ProviderSettings{})
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}

func TestBuildCompleter_WrapsWithPacing(t *testing.T) {
	RegisterProvider("static", func(settings.ProviderSettings) (llm.Completer, error) {
		return staticCompleter{reply: "ok"}, nil
	})

	s := settings.Settings{
		Provider:   "static",
		Processing: settings.ProcessingSettings{DelayBetweenRequests: 2},
	}

	c, err := buildCompleter(s)
	require.NoError(t, err)
	assert.IsType(t, &llm.PacedCompleter{}, c)
}

func TestBuildCompleter_UnknownProvider(t *testing.T) {
	_, err := buildCompleter(settings.Settings{Provider: "nope"})
	assert.ErrorContains(t, err, `unknown provider "nope"`)
}
