package workflow

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/proj")

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoWorkflow)

	ok, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/proj")

	st, err := NewState("auth-refactor", ScaleMedium, testNow)
	require.NoError(t, err)
	st.Phases[PhasePlanning].Outputs = append(st.Phases[PhasePlanning].Outputs, "01HZX")

	require.NoError(t, store.Save(st))
	assert.Equal(t, "/proj/.fama/workflow/status.yaml", store.Path())

	raw, err := afero.ReadFile(fs, store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "scale: MEDIUM")
	assert.Contains(t, string(raw), "currentPhase: P")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, st.Name, loaded.Name)
	assert.Equal(t, ScaleMedium, loaded.Scale)
	assert.Equal(t, StatusSkipped, loaded.Phases[PhaseCompletion].Status)
	assert.Equal(t, []string{"01HZX"}, loaded.Phases[PhasePlanning].Outputs)
	assert.NotNil(t, loaded.Phases[PhaseReview].Outputs)
	assert.True(t, loaded.StartedAt.Equal(testNow))

	tmp, err := afero.Exists(fs, store.Path()+".tmp")
	require.NoError(t, err)
	assert.False(t, tmp)
}

func TestStore_LoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/proj")
	require.NoError(t, afero.WriteFile(fs, store.Path(), []byte("name: [unclosed"), 0o644))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStore_LoadMissingFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/proj")
	require.NoError(t, afero.WriteFile(fs, store.Path(), []byte("scale: SMALL\n"), 0o644))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrInvalidState)
}
