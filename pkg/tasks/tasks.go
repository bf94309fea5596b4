// Package tasks holds the local record transforms applied around the LLM
// call: cleanup that needs no model, and the postprocessing stamp.
package tasks

import (
	"regexp"
	"strings"
	"time"

	"github.com/datakiln/refinery/pkg/records"
)

var (
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// cleanText normalizes whitespace and strips control characters while leaving
// the text's language and wording untouched.
func cleanText(s string) string {
	s = controlRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = newlineRunRe.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Preprocess applies the local cleanup pass to a record before it is sent to
// the provider.
func Preprocess(rec records.Record) records.Record {
	rec.Title = cleanText(rec.Title)
	rec.Content = cleanText(rec.Content)
	rec.PublishedDate = strings.TrimSpace(rec.PublishedDate)

	var cats []string
	for _, c := range rec.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	rec.Categories = cats

	return rec
}

// Postprocess stamps the record with the processing time in RFC3339 UTC.
func Postprocess(rec records.Record, now time.Time) records.Record {
	rec.ProcessedTimestamp = now.UTC().Format(time.RFC3339)
	return rec
}
