package diagram

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoDiagramInExport = errors.New("export payload carries no diagram")

const (
	svgBase64Prefix = "data:image/svg+xml;base64,"
	svgPlainPrefix  = "data:image/svg+xml,"
)

// ExtractFromExport pulls the diagram document out of an xmlsvg export. The
// payload may be a data URL, bare base64, raw SVG whose content attribute
// holds the document, or the document itself.
func ExtractFromExport(payload string) (string, error) {
	s, err := decodeExportPayload(strings.TrimSpace(payload))
	if err != nil {
		return "", err
	}
	top, err := parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDiagramInExport, err)
	}
	switch top.name {
	case "mxfile", "mxGraphModel":
		return NormalizeDocument(s)
	case "svg":
		content, ok := top.attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			return "", ErrNoDiagramInExport
		}
		return NormalizeDocument(content)
	}
	return "", ErrNoDiagramInExport
}

func decodeExportPayload(s string) (string, error) {
	switch {
	case strings.HasPrefix(s, svgBase64Prefix):
		raw, err := base64.StdEncoding.DecodeString(s[len(svgBase64Prefix):])
		if err != nil {
			return "", fmt.Errorf("decode export data url: %w", err)
		}
		return string(raw), nil
	case strings.HasPrefix(s, svgPlainPrefix):
		raw, err := url.PathUnescape(s[len(svgPlainPrefix):])
		if err != nil {
			return "", fmt.Errorf("decode export data url: %w", err)
		}
		return raw, nil
	case strings.HasPrefix(s, "<"):
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", ErrNoDiagramInExport
	}
	return string(raw), nil
}
