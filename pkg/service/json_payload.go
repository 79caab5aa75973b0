package service

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowpilot/flowpilot/pkg/tools"
)

var (
	errNoJSON         = errors.New("model did not return a JSON result, retry or pick another model")
	errUnparsableJSON = errors.New("could not parse the JSON returned by the model")
	errMissingXML     = errors.New("model result is missing the xml field")
)

var fencedJSON = regexp.MustCompile("(?is)```json(.*?)```")

// extractJSONObject returns the JSON object in a model reply: the first
// ```json fenced block, or the whole reply when it starts with "{".
// Malformed JSON is repaired when possible.
func extractJSONObject(text string) (gjson.Result, error) {
	var raw string
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		raw = strings.TrimSpace(m[1])
	} else if t := strings.TrimSpace(text); strings.HasPrefix(t, "{") {
		raw = t
	}
	if raw == "" {
		return gjson.Result{}, errNoJSON
	}
	fixed, err := tools.RepairArguments(raw)
	if err != nil {
		return gjson.Result{}, errUnparsableJSON
	}
	parsed := gjson.Parse(fixed)
	if !parsed.IsObject() {
		return gjson.Result{}, errUnparsableJSON
	}
	return parsed, nil
}

// comparePayload is the {summary, xml} object of a comparison reply.
type comparePayload struct {
	Summary string
	XML     string
}

func parseComparePayload(text string) (*comparePayload, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	xml := obj.Get("xml")
	if xml.Type != gjson.String {
		return nil, errMissingXML
	}
	out := &comparePayload{XML: xml.String()}
	if s := obj.Get("summary"); s.Type == gjson.String {
		out.Summary = s.String()
	}
	return out, nil
}
