package diagram

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
)

// EmptyDocument is the document a session starts from.
const EmptyDocument = `<mxfile><diagram name="Page-1" id="page-1"><mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/></root></mxGraphModel></diagram></mxfile>`

// Reserved cell ids present in every document.
const (
	RootCellID  = "0"
	LayerCellID = "1"
)

var (
	ErrNoGraphModel = errors.New("document has no mxGraphModel")
	ErrNoCellRoot   = errors.New("document has no <root> element")
)

var xmlDecl = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)

func isReserved(n *node) bool {
	id := n.id()
	return id == RootCellID || id == LayerCellID
}

// graphModel returns the first mxGraphModel in the tree, inflating a
// compressed <diagram> payload in place when needed.
func graphModel(top *node) (*node, error) {
	switch top.name {
	case "mxGraphModel":
		return top, nil
	case "mxfile":
		d := top.child("diagram")
		if d == nil {
			return nil, ErrNoGraphModel
		}
		return diagramModel(d)
	case "diagram":
		return diagramModel(top)
	}
	return nil, ErrNoGraphModel
}

func diagramModel(d *node) (*node, error) {
	if m := d.child("mxGraphModel"); m != nil {
		return m, nil
	}
	if d.text == "" {
		return nil, ErrNoGraphModel
	}
	raw, err := DecodeCompressed(d.text)
	if err != nil {
		return nil, err
	}
	m, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if m.name != "mxGraphModel" {
		return nil, ErrNoGraphModel
	}
	d.text = ""
	d.children = append(d.children, m)
	return m, nil
}

func cellRoot(top *node) (*node, error) {
	m, err := graphModel(top)
	if err != nil {
		return nil, err
	}
	r := m.child("root")
	if r == nil {
		return nil, ErrNoCellRoot
	}
	return r, nil
}

// ExtractMutableSubtree returns the cells of doc's first page, reserved cells
// excluded, serialized one after another.
func ExtractMutableSubtree(doc string) (string, error) {
	top, err := parse(doc)
	if err != nil {
		return "", err
	}
	root, err := cellRoot(top)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(root.children))
	for _, c := range root.children {
		if isReserved(c) {
			continue
		}
		parts = append(parts, render(c))
	}
	return strings.Join(parts, "\n"), nil
}

// ReplaceMutableSubtree swaps the non-reserved cells of doc for the cells in
// subtree. The wrapper elements of doc and its reserved cells are kept.
// subtree may be bare cells, a <root>, an <mxGraphModel> or a whole <mxfile>.
func ReplaceMutableSubtree(doc, subtree string) (string, error) {
	top, err := parse(doc)
	if err != nil {
		return "", err
	}
	root, err := cellRoot(top)
	if err != nil {
		return "", err
	}
	cells, err := candidateCells(subtree)
	if err != nil {
		return "", err
	}

	merged := make([]*node, 0, len(cells)+2)
	for _, c := range root.children {
		if isReserved(c) {
			merged = append(merged, c)
		}
	}
	for _, c := range cells {
		if !isReserved(c) {
			merged = append(merged, c)
		}
	}
	root.children = merged
	return render(top), nil
}

// candidateCells parses the candidate payload into its list of cells.
func candidateCells(subtree string) ([]*node, error) {
	s := strings.TrimSpace(xmlDecl.ReplaceAllString(subtree, ""))
	if s == "" {
		return nil, nil
	}
	frag, err := parse("<fragment>" + s + "</fragment>")
	if err != nil {
		return nil, err
	}
	if len(frag.children) != 1 {
		return frag.children, nil
	}
	only := frag.children[0]
	switch only.name {
	case "root":
		return only.children, nil
	case "mxGraphModel", "mxfile", "diagram":
		r, err := cellRoot(only)
		if err != nil {
			return nil, err
		}
		return r.children, nil
	}
	return frag.children, nil
}

// PrettyPrint re-serializes xml with two-space indentation. The output is a
// fixed point: PrettyPrint(PrettyPrint(x)) == PrettyPrint(x).
func PrettyPrint(xml string) (string, error) {
	top, err := parse(xml)
	if err != nil {
		return "", err
	}
	return render(top), nil
}

// NormalizeDocument pretty prints doc with compressed pages inflated.
func NormalizeDocument(doc string) (string, error) {
	top, err := parse(doc)
	if err != nil {
		return "", err
	}
	if top.name == "mxfile" {
		for _, d := range top.childrenNamed("diagram") {
			if _, err := diagramModel(d); err != nil {
				return "", err
			}
		}
	}
	return render(top), nil
}

// DecodeCompressed inflates a compressed draw.io page: base64, then raw
// deflate, then URI decoding.
func DecodeCompressed(payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("decode compressed diagram: %w", err)
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	inflated, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("inflate compressed diagram: %w", err)
	}
	out, err := url.PathUnescape(string(inflated))
	if err != nil {
		return "", fmt.Errorf("unescape compressed diagram: %w", err)
	}
	return out, nil
}

// EncodeCompressed is the inverse of DecodeCompressed.
func EncodeCompressed(xml string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(url.PathEscape(xml))); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
