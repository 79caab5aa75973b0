package diagram

import (
	"fmt"
	"strings"
	"testing"
)

func model(cells string) string {
	return `<mxfile><diagram id="d"><mxGraphModel><root>` + cells + `</root></mxGraphModel></diagram></mxfile>`
}

const reserved = `<mxCell id="0"/><mxCell id="1" parent="0"/>`

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	doc := model(reserved +
		`<mxCell id="n1" vertex="1" parent="1"/>` +
		`<mxCell id="n2" vertex="1" parent="1"/>` +
		`<mxCell id="e1" edge="1" source="n1" target="n2" parent="1"><mxGeometry relative="1" as="geometry"/></mxCell>`)

	res := Validate(doc)
	if !res.IsValid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	want, _ := PrettyPrint(doc)
	if res.NormalizedXML != want {
		t.Fatalf("normalized form mismatch:\n%s", res.NormalizedXML)
	}
	if again := Validate(res.NormalizedXML); again.NormalizedXML != res.NormalizedXML {
		t.Fatalf("normalized form is not stable")
	}
}

func TestValidateEmptyDocument(t *testing.T) {
	if res := Validate(EmptyDocument); !res.IsValid {
		t.Fatalf("EmptyDocument must validate, got %v", res.Errors)
	}
}

func TestValidateCodes(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want []ErrorCode
	}{
		{"empty string", "   ", []ErrorCode{CodeParseError}},
		{"not xml", "display this please", []ErrorCode{CodeParseError}},
		{"unclosed", `<mxfile><diagram id="d"><mxGraphModel><root>`, []ErrorCode{CodeParseError}},
		{"wrong container", `<svg><g/></svg>`, []ErrorCode{CodeMissingRoot}},
		{"no root element", `<mxGraphModel/>`, []ErrorCode{CodeMissingRoot}},
		{"mxfile without pages", `<mxfile/>`, []ErrorCode{CodeMissingRoot}},
		{"missing cell 0", model(`<mxCell id="1" parent="0"/>`), []ErrorCode{CodeMissingRoot}},
		{"missing cell 1", model(`<mxCell id="0"/><mxCell id="n1" parent="0"/>`), []ErrorCode{CodeMissingRoot}},
		{"layer detached", model(`<mxCell id="0"/><mxCell id="1"/>`), []ErrorCode{CodeMissingRoot}},
		{"dangling target", model(reserved + `<mxCell id="n1" parent="1"/><mxCell id="e1" edge="1" source="n1" target="n99" parent="1"/>`), []ErrorCode{CodeDanglingEdge}},
		{"dangling source", model(reserved + `<mxCell id="n1" parent="1"/><mxCell id="e1" edge="1" source="ghost" target="n1" parent="1"/>`), []ErrorCode{CodeDanglingEdge}},
		{"duplicate id", model(reserved + `<mxCell id="n1" parent="1"/><mxCell id="n1" parent="1"/>`), []ErrorCode{CodeDuplicateID}},
		{"all defects collected", model(`<mxCell id="1" parent="0"/><mxCell id="n1" parent="1"/><mxCell id="n1" parent="1"/><mxCell id="e" edge="1" target="n99" parent="1"/>`),
			[]ErrorCode{CodeMissingRoot, CodeDanglingEdge, CodeDuplicateID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.xml)
			if res.IsValid {
				t.Fatalf("expected invalid")
			}
			if res.NormalizedXML != "" {
				t.Fatalf("normalized xml must be empty on failure")
			}
			for _, code := range tt.want {
				if !res.Has(code) {
					t.Fatalf("missing code %s in %v", code, res.Errors)
				}
			}
		})
	}
}

func TestValidateUserObjectIdsCount(t *testing.T) {
	doc := model(reserved +
		`<UserObject id="u1" label="Service"><mxCell vertex="1" parent="1"/></UserObject>` +
		`<mxCell id="e1" edge="1" source="u1" target="u1" parent="1"/>`)
	if res := Validate(doc); !res.IsValid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
}

func TestValidatorSoundnessMissingReservedCells(t *testing.T) {
	bodies := []string{
		`<mxCell id="a" parent="1"/>`,
		`<mxCell id="a" parent="1"/><mxCell id="b" parent="1"/>`,
		`<mxCell id="e" edge="1" source="a" target="a" parent="1"/><mxCell id="a" parent="1"/>`,
	}
	for i, body := range bodies {
		for _, drop := range []string{"0", "1"} {
			var cells string
			if drop == "0" {
				cells = `<mxCell id="1" parent="0"/>`
			} else {
				cells = `<mxCell id="0"/>`
			}
			res := Validate(model(cells + body))
			if res.IsValid || !res.Has(CodeMissingRoot) {
				t.Fatalf("body %d without cell %s: got %+v", i, drop, res)
			}
		}
	}
}

func TestValidatorSoundnessDanglingTargets(t *testing.T) {
	for i := 0; i < 20; i++ {
		missing := fmt.Sprintf("ghost-%d", i)
		doc := model(reserved + `<mxCell id="n1" parent="1"/><mxCell id="e1" edge="1" source="n1" target="` + missing + `" parent="1"/>`)
		res := Validate(doc)
		if res.IsValid || !res.Has(CodeDanglingEdge) {
			t.Fatalf("target %s: got %+v", missing, res)
		}
		if !strings.Contains(SummarizeErrors(res.Errors), missing) {
			t.Fatalf("summary does not name the missing id")
		}
	}
}

func TestSummarizeErrors(t *testing.T) {
	got := SummarizeErrors([]ValidationError{
		{Code: CodeDanglingEdge, Message: `edge "e1" references missing target "n99"`},
		{Code: CodeDuplicateID, Message: `id "n1" is used 2 times`},
	})
	want := "(DANGLING_EDGE) edge \"e1\" references missing target \"n99\"\n(DUPLICATE_ID) id \"n1\" is used 2 times"
	if got != want {
		t.Fatalf("got %q", got)
	}
}
