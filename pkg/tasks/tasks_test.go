package tasks_test

import (
	"testing"
	"time"

	"github.com/datakiln/refinery/pkg/records"
	"github.com/datakiln/refinery/pkg/tasks"
	"github.com/stretchr/testify/assert"
)

func TestPreprocess_NormalizesWhitespace(t *testing.T) {
	rec := records.Record{
		RecordID:      "1",
		Title:         "  A   spaced\tout  title ",
		PublishedDate: " 2024-09-22 ",
		Categories:    []string{" News ", "", "Sports"},
		Content:       "line one\r\nline two\n\n\n\n\nline three\x00",
	}

	got := tasks.Preprocess(rec)

	assert.Equal(t, "A spaced out title", got.Title)
	assert.Equal(t, "2024-09-22", got.PublishedDate)
	assert.Equal(t, []string{"News", "Sports"}, got.Categories)
	assert.Equal(t, "line one\nline two\n\nline three", got.Content)
}

func TestPreprocess_PreservesNonASCIIText(t *testing.T) {
	rec := records.Record{Content: "Nội dung tiếng Việt có dấu."}

	got := tasks.Preprocess(rec)
	assert.Equal(t, "Nội dung tiếng Việt có dấu.", got.Content)
}

func TestPostprocess_StampsUTC(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	now := time.Date(2024, 9, 22, 23, 20, 0, 0, loc)

	got := tasks.Postprocess(records.Record{RecordID: "1"}, now)
	assert.Equal(t, "2024-09-22T16:20:00Z", got.ProcessedTimestamp)
}
