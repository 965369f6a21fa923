package chunker

import (
	"fmt"
	"strings"
)

// FieldGroup names a logical group of record fields that chunk together,
// e.g. potency-related fields or descriptive fields of a catalog row.
type FieldGroup struct {
	Name   string
	Fields []string
}

// SplitRecord chunks a structured field-value record.
//
// It emits one overview chunk (title plus the important fields) followed by
// one chunk per field group. A group chunk is only emitted when at least one
// of its fields has a non-empty value, so sparse records produce no filler.
func SplitRecord(record map[string]string, title string, important []string, groups []FieldGroup) []Piece {
	var pieces []Piece

	overview := formatFields(record, important)
	if title != "" || overview != "" {
		content := title
		if overview != "" {
			content = strings.TrimSpace(title + "\n" + overview)
		}
		pieces = append(pieces, Piece{
			Content:  content,
			Index:    0,
			Metadata: map[string]string{"chunk_type": "overview"},
		})
	}

	for _, group := range groups {
		body := formatFields(record, group.Fields)
		if body == "" {
			continue
		}
		content := body
		if group.Name != "" {
			content = group.Name + "\n" + body
		}
		pieces = append(pieces, Piece{
			Content:  content,
			Index:    len(pieces),
			Metadata: map[string]string{"chunk_type": group.Name},
		})
	}

	return pieces
}

// formatFields renders "name: value" lines for the named fields that have
// non-empty values, preserving the given field order.
func formatFields(record map[string]string, fields []string) string {
	var lines []string
	for _, name := range fields {
		if value := strings.TrimSpace(record[name]); value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", name, value))
		}
	}
	return strings.Join(lines, "\n")
}
