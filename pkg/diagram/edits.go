package diagram

import (
	"fmt"
	"strings"
)

// TextEdit is a literal search/replace against the serialized document.
type TextEdit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// EditError reports the first edit that could not be applied. Count is the
// number of times Search occurred in the text at that point.
type EditError struct {
	Index  int
	Search string
	Count  int
}

func (e *EditError) Error() string {
	if e.Search == "" {
		return fmt.Sprintf("edit %d: search text is empty", e.Index)
	}
	if e.Count == 0 {
		return fmt.Sprintf("edit %d: search text %q not found", e.Index, truncate(e.Search, 80))
	}
	return fmt.Sprintf("edit %d: search text %q matches %d times, it must be unique", e.Index, truncate(e.Search, 80), e.Count)
}

// ApplyTextEdits applies edits in order. Every search must occur exactly
// once in the text it is applied to; on any failure doc is returned untouched
// together with an *EditError.
func ApplyTextEdits(doc string, edits []TextEdit) (string, error) {
	out := doc
	for i, e := range edits {
		if e.Search == "" {
			return doc, &EditError{Index: i}
		}
		if n := strings.Count(out, e.Search); n != 1 {
			return doc, &EditError{Index: i, Search: e.Search, Count: n}
		}
		out = strings.Replace(out, e.Search, e.Replace, 1)
	}
	return out, nil
}
