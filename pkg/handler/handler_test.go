package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
)

const stubCell = `<mxCell id="n" value="N" vertex="1" parent="1"><mxGeometry x="0" y="0" width="80" height="40" as="geometry"/></mxCell>`

// stubGenerator answers comparison prompts with stubCell and chat turns
// with plain text.
type stubGenerator struct{}

func (stubGenerator) Resolve(id string) (*models.ResolvedModel, error) {
	if id == "" {
		id = "default"
	}
	return &models.ResolvedModel{ID: id, Label: id, Provider: "stub"}, nil
}

func (stubGenerator) Generate(_ context.Context, req service.GenerateRequest) (*schema.Message, error) {
	if req.SystemPrompt == service.CompareSystemPrompt {
		payload, _ := json.Marshal(map[string]string{"summary": "one node", "xml": stubCell})
		return schema.AssistantMessage(string(payload), nil), nil
	}
	return schema.AssistantMessage("noted", nil), nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newEngine() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	return engine, engine.Group("/api")
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func message(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Message
}
