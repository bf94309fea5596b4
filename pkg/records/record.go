// Package records parses and serializes input records. Records arrive either
// as JSON objects or in a tagged text form:
//
//	<id=1>
//	<title>Sample Title</title>
//	<published_date>2024-09-22</published_date>
//	<categories><Category1><Category2></categories>
//	<content>
//	Sample content here.
//	</content>
//	</id=1>
package records

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Record is a single input record. Field names match the Record Schema
// Document properties.
type Record struct {
	RecordID           string   `json:"record_id"`
	Title              string   `json:"title"`
	PublishedDate      string   `json:"published_date,omitempty"`
	Categories         []string `json:"categories,omitempty"`
	Content            string   `json:"content"`
	ProcessedTimestamp string   `json:"processed_timestamp,omitempty"`
}

var (
	recordRe     = regexp.MustCompile(`(?s)<id=(\d+)>.*?</id=\d+>`)
	idRe         = regexp.MustCompile(`<id=(\d+)>`)
	titleRe      = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	dateRe       = regexp.MustCompile(`(?s)<published_date>(.*?)</published_date>`)
	categoriesRe = regexp.MustCompile(`(?s)<categories>(.*?)</categories>`)
	categoryRe   = regexp.MustCompile(`<([^<>]*)>`)
	contentRe    = regexp.MustCompile(`(?s)<content>(.*?)</content>`)
)

// Split extracts the individual tagged record blocks from raw input data.
func Split(data string) []string {
	return recordRe.FindAllString(data, -1)
}

// FromTaggedText parses a single tagged record block.
func FromTaggedText(s string) (Record, error) {
	id := idRe.FindStringSubmatch(s)
	title := titleRe.FindStringSubmatch(s)
	date := dateRe.FindStringSubmatch(s)
	cats := categoriesRe.FindStringSubmatch(s)
	content := contentRe.FindStringSubmatch(s)

	if id == nil || title == nil || date == nil || cats == nil || content == nil {
		return Record{}, fmt.Errorf("records: tagged text is missing one or more required fields")
	}

	var categories []string
	for _, m := range categoryRe.FindAllStringSubmatch(strings.TrimSpace(cats[1]), -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			categories = append(categories, c)
		}
	}

	return Record{
		RecordID:      id[1],
		Title:         strings.TrimSpace(title[1]),
		PublishedDate: strings.TrimSpace(date[1]),
		Categories:    categories,
		Content:       strings.TrimSpace(content[1]),
	}, nil
}

// FromJSON parses a record from a JSON object string.
func FromJSON(s string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Record{}, fmt.Errorf("records: decode json: %w", err)
	}

	return r, nil
}

// Parse loads a record from raw input, trying JSON first and falling back to
// the tagged text form.
func Parse(s string) (Record, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") {
		if r, err := FromJSON(s); err == nil {
			return r, nil
		}
	}

	r, err := FromTaggedText(s)
	if err != nil {
		return Record{}, fmt.Errorf("records: input is neither valid JSON nor tagged text")
	}

	return r, nil
}

// ToMap returns the record as a generic map for schema validation. Empty
// optional fields are omitted, matching the JSON encoding.
func (r Record) ToMap() map[string]any {
	m := map[string]any{
		"record_id": r.RecordID,
		"title":     r.Title,
		"content":   r.Content,
	}

	if r.PublishedDate != "" {
		m["published_date"] = r.PublishedDate
	}
	if len(r.Categories) > 0 {
		m["categories"] = r.Categories
	}
	if r.ProcessedTimestamp != "" {
		m["processed_timestamp"] = r.ProcessedTimestamp
	}

	return m
}

// JSON returns the indented JSON encoding of the record.
func (r Record) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("records: encode json: %w", err)
	}

	return string(b), nil
}
