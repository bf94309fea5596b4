package formatter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/datakiln/refinery/pkg/formatter"
	"github.com/datakiln/refinery/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	reply string
	err   error
	got   llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.got = req
	return s.reply, s.err
}

func TestRecord(t *testing.T) {
	stub := &stubCompleter{reply: `<id=3>
<title>Recovered Title</title>
<published_date>2024-09-22</published_date>
<categories><News></categories>
<content>Recovered content.</content>
</id=3>`}

	f := formatter.New(stub)

	rec, err := f.Record(context.Background(), "messy pasted text")
	require.NoError(t, err)

	assert.Equal(t, "3", rec.RecordID)
	assert.Equal(t, "Recovered Title", rec.Title)
	assert.Equal(t, []string{"News"}, rec.Categories)
	assert.Contains(t, stub.got.User, "messy pasted text")
}

func TestRecord_CompleterError(t *testing.T) {
	f := formatter.New(&stubCompleter{err: errors.New("down")})

	_, err := f.Record(context.Background(), "text")
	assert.ErrorContains(t, err, "down")
}

func TestRecord_BadReply(t *testing.T) {
	f := formatter.New(&stubCompleter{reply: "sorry, cannot do that"})

	_, err := f.Record(context.Background(), "text")
	assert.ErrorContains(t, err, "not valid tagged text")
}
