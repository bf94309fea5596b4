// Package formatter turns unformatted text into tagged records by asking an
// LLM to impose the tag structure before parsing.
package formatter

import (
	"context"
	"fmt"

	"github.com/datakiln/refinery/pkg/llm"
	"github.com/datakiln/refinery/pkg/prompt"
	"github.com/datakiln/refinery/pkg/records"
)

// Formatter structures raw text through a Completer. Prompts may carry
// overrides loaded from the prompts file; the zero value uses the defaults.
type Formatter struct {
	completer llm.Completer

	Prompts prompt.Prompts
}

// New creates a Formatter backed by the given completer.
func New(c llm.Completer) *Formatter {
	return &Formatter{completer: c}
}

// Record converts unformatted text into a Record: the completer imposes the
// tagged form, then the tagged text is parsed as usual.
func (f *Formatter) Record(ctx context.Context, raw string) (records.Record, error) {
	reply, err := f.completer.Complete(ctx, f.Prompts.Format(raw))
	if err != nil {
		return records.Record{}, fmt.Errorf("formatter: %w", err)
	}

	rec, err := records.FromTaggedText(reply)
	if err != nil {
		return records.Record{}, fmt.Errorf("formatter: reply is not valid tagged text: %w", err)
	}

	return rec, nil
}
