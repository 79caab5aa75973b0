package handler

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/service"
	"github.com/flowpilot/flowpilot/pkg/tools"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

func newSettingsEngine(t *testing.T) http.Handler {
	t.Helper()
	engine, api := newEngine()
	dir := t.TempDir()

	quickActions, err := service.NewQuickActionService(filepath.Join(dir, "quick_actions.json"))
	require.NoError(t, err)
	templates, err := service.NewTemplateService(filepath.Join(dir, "templates.json"))
	require.NoError(t, err)

	NewQuickActionHandler(quickActions, utils.GetLogger()).RegisterRoutes(api)
	NewTemplateHandler(templates).RegisterRoutes(api)
	NewCustomModelHandler(service.NewFileCustomModelStore(filepath.Join(dir, "custom_models.json")), utils.GetLogger()).RegisterRoutes(api)
	NewToolHandler(tools.NewBuiltinToolsService(tools.NewRegistry())).RegisterRoutes(api)
	return engine
}

func TestQuickActionEndpoints(t *testing.T) {
	engine := newSettingsEngine(t)

	w := do(t, engine, http.MethodGet, "/api/quick-actions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	seeded := decode[models.QuickActionListResponse](t, w)
	require.NotEmpty(t, seeded.Actions)
	assert.Equal(t, len(seeded.Actions), seeded.Total)

	w = do(t, engine, http.MethodPost, "/api/quick-actions", models.CreateQuickActionRequest{Title: "Dark", Prompt: "Use a dark theme"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.QuickAction](t, w)
	assert.Equal(t, seeded.Total, created.Order)

	w = do(t, engine, http.MethodPost, "/api/quick-actions", `{"title": "no prompt"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	title := "Darker"
	w = do(t, engine, http.MethodPut, "/api/quick-actions/"+created.ID, models.UpdateQuickActionRequest{Title: &title})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Darker", decode[models.QuickAction](t, w).Title)
	w = do(t, engine, http.MethodPut, "/api/quick-actions/missing", models.UpdateQuickActionRequest{Title: &title})
	assert.Equal(t, http.StatusNotFound, w.Code)

	ids := []string{created.ID}
	for _, a := range seeded.Actions {
		ids = append(ids, a.ID)
	}
	w = do(t, engine, http.MethodPut, "/api/quick-actions/reorder", models.ReorderQuickActionsRequest{IDs: ids})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, created.ID, decode[models.QuickActionListResponse](t, w).Actions[0].ID)

	w = do(t, engine, http.MethodDelete, "/api/quick-actions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, engine, http.MethodGet, "/api/quick-actions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	engine := newSettingsEngine(t)

	w := do(t, engine, http.MethodGet, "/api/templates/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[[]string](t, w), "architecture")

	w = do(t, engine, http.MethodGet, "/api/templates?category=architecture", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, tpl := range decode[[]models.DiagramTemplate](t, w) {
		assert.Equal(t, "architecture", tpl.Category)
	}

	w = do(t, engine, http.MethodGet, "/api/templates/three-tier", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[models.DiagramTemplate](t, w).XML)

	w = do(t, engine, http.MethodGet, "/api/templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCustomModelEndpoints(t *testing.T) {
	engine := newSettingsEngine(t)

	w := do(t, engine, http.MethodPost, "/api/custom-models", models.TouchCustomModelRequest{ID: "openrouter/meta/llama", Label: "Llama"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, engine, http.MethodPost, "/api/custom-models", models.TouchCustomModelRequest{ID: "local/qwen"})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.CustomModel](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "local/qwen", list[0].ID)

	w = do(t, engine, http.MethodPost, "/api/custom-models", `{"label": "no id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, engine, http.MethodDelete, "/api/custom-models/openrouter/meta/llama", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list = decode[[]models.CustomModel](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "local/qwen", list[0].ID)
}

func TestToolEndpoints(t *testing.T) {
	engine := newSettingsEngine(t)

	w := do(t, engine, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ids []string
	for _, info := range decode[[]tools.BuiltinToolInfo](t, w) {
		ids = append(ids, info.ID)
	}
	assert.ElementsMatch(t, []string{string(tools.DisplayDiagramToolID), string(tools.EditDiagramToolID)}, ids)

	w = do(t, engine, http.MethodGet, "/api/tools/edit_diagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, engine, http.MethodGet, "/api/tools/run_shell", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
