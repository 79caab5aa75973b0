package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpilot/flowpilot/pkg/models"
)

func actionIDs(list []models.QuickAction) []string {
	return lo.Map(list, func(a models.QuickAction, _ int) string { return a.ID })
}

func TestQuickActionServiceSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quick_actions.json")
	svc, err := NewQuickActionService(path)
	require.NoError(t, err)

	want := lo.Map(models.DefaultQuickActions, func(a models.QuickAction, _ int) string { return a.ID })
	assert.Equal(t, want, actionIDs(svc.List()))
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = svc.Get("missing")
	require.ErrorIs(t, err, ErrQuickActionNotFound)
}

func TestQuickActionServiceCRUD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quick_actions.json")
	svc, err := NewQuickActionService(path)
	require.NoError(t, err)
	n := len(svc.List())

	_, err = svc.Create(&models.CreateQuickActionRequest{Title: "x"})
	require.Error(t, err)

	created, err := svc.Create(&models.CreateQuickActionRequest{Title: "Sequence", Prompt: "Turn this into a sequence diagram"})
	require.NoError(t, err)
	assert.Equal(t, n, created.Order)

	blank := ""
	_, err = svc.Update(created.ID, &models.UpdateQuickActionRequest{Prompt: &blank})
	require.Error(t, err)
	got, err := svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Turn this into a sequence diagram", got.Prompt, "rejected update leaves the action untouched")

	badge := "uml"
	updated, err := svc.Update(created.ID, &models.UpdateQuickActionRequest{Badge: &badge})
	require.NoError(t, err)
	assert.Equal(t, "uml", updated.Badge)

	reordered, err := svc.Reorder([]string{created.ID})
	require.NoError(t, err)
	assert.Equal(t, created.ID, reordered[0].ID)
	assert.Equal(t, 0, reordered[0].Order)
	_, err = svc.Reorder([]string{"missing"})
	require.Error(t, err)

	// state survives a reload
	reloaded, err := NewQuickActionService(path)
	require.NoError(t, err)
	assert.Equal(t, actionIDs(svc.List()), actionIDs(reloaded.List()))

	require.NoError(t, svc.Delete(created.ID))
	require.ErrorIs(t, svc.Delete(created.ID), ErrQuickActionNotFound)
	assert.Len(t, svc.List(), n)
}

func TestQuickActionServiceRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quick_actions.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o600))
	_, err := NewQuickActionService(path)
	require.Error(t, err)
}
