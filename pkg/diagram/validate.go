package diagram

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a validation defect.
type ErrorCode string

const (
	CodeParseError   ErrorCode = "PARSE_ERROR"
	CodeMissingRoot  ErrorCode = "MISSING_ROOT"
	CodeDanglingEdge ErrorCode = "DANGLING_EDGE"
	CodeDuplicateID  ErrorCode = "DUPLICATE_ID"
)

// ValidationError is one defect found by Validate.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("(%s) %s", e.Code, e.Message)
}

// ValidationResult is the outcome of Validate. NormalizedXML is set only when
// IsValid is true.
type ValidationResult struct {
	IsValid       bool              `json:"is_valid"`
	NormalizedXML string            `json:"normalized_xml,omitempty"`
	Errors        []ValidationError `json:"errors,omitempty"`
}

// Has reports whether the result contains an error with the given code.
func (r ValidationResult) Has(code ErrorCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Validate checks that candidate is a well-formed document with the reserved
// cells, no dangling edge endpoints and no duplicate ids. All defects are
// collected. Validate never edits the document beyond re-serializing it.
func Validate(candidate string) ValidationResult {
	if strings.TrimSpace(candidate) == "" {
		return invalid(ValidationError{Code: CodeParseError, Message: "document is empty"})
	}
	top, err := parse(candidate)
	if err != nil {
		return invalid(ValidationError{Code: CodeParseError, Message: err.Error()})
	}

	var pages []*node
	switch top.name {
	case "mxGraphModel":
		pages = []*node{top}
	case "mxfile":
		for _, d := range top.childrenNamed("diagram") {
			m, err := diagramModel(d)
			if errors.Is(err, ErrNoGraphModel) {
				continue
			}
			if err != nil {
				return invalid(ValidationError{Code: CodeParseError, Message: err.Error()})
			}
			pages = append(pages, m)
		}
	default:
		return invalid(ValidationError{
			Code:    CodeMissingRoot,
			Message: fmt.Sprintf("top-level element is <%s>, expected <mxfile> or <mxGraphModel>", top.name),
		})
	}
	if len(pages) == 0 {
		return invalid(ValidationError{Code: CodeMissingRoot, Message: "no diagram page with an <mxGraphModel> found"})
	}

	var errs []ValidationError
	for i, m := range pages {
		errs = append(errs, checkPage(m, pageLabel(i, len(pages)))...)
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}
	return ValidationResult{IsValid: true, NormalizedXML: render(top)}
}

func invalid(errs ...ValidationError) ValidationResult {
	return ValidationResult{Errors: errs}
}

func pageLabel(i, n int) string {
	if n == 1 {
		return ""
	}
	return fmt.Sprintf("page %d: ", i+1)
}

func checkPage(model *node, prefix string) []ValidationError {
	root := model.child("root")
	if root == nil {
		return []ValidationError{{Code: CodeMissingRoot, Message: prefix + "missing <root> element"}}
	}

	var errs []ValidationError
	var cell0, cell1 *node
	for _, c := range root.children {
		switch c.id() {
		case RootCellID:
			if cell0 == nil {
				cell0 = c
			}
		case LayerCellID:
			if cell1 == nil {
				cell1 = c
			}
		}
	}
	if cell0 == nil {
		errs = append(errs, ValidationError{Code: CodeMissingRoot, Message: prefix + `reserved cell id="0" is missing`})
	}
	if cell1 == nil {
		errs = append(errs, ValidationError{Code: CodeMissingRoot, Message: prefix + `reserved cell id="1" is missing`})
	} else if p, _ := cell1.attr("parent"); cell0 != nil && p != RootCellID {
		errs = append(errs, ValidationError{Code: CodeMissingRoot, Message: prefix + `reserved cell id="1" must have parent="0"`})
	}

	counts := make(map[string]int)
	var order []string
	root.walk(func(n *node) {
		id := n.id()
		if id == "" {
			return
		}
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	})

	root.walk(func(n *node) {
		for _, end := range []string{"source", "target"} {
			ref, ok := n.attr(end)
			if !ok || ref == "" {
				continue
			}
			if counts[ref] == 0 {
				errs = append(errs, ValidationError{
					Code:    CodeDanglingEdge,
					Message: fmt.Sprintf("%sedge %q references missing %s %q", prefix, n.id(), end, ref),
				})
			}
		}
	})

	for _, id := range order {
		if counts[id] > 1 {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateID,
				Message: fmt.Sprintf("%sid %q is used %d times", prefix, id, counts[id]),
			})
		}
	}
	return errs
}

// SummarizeErrors renders one "(CODE) message" line per error.
func SummarizeErrors(errs []ValidationError) string {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}
