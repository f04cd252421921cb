package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_GetMissing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.Get(t.Context(), "step_1_x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings_SetManyUpserts(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SetMany(ctx, map[string]int{"step_1_x": 10, "step_1_y": 20}))
	require.NoError(t, s.SetMany(ctx, map[string]int{"step_1_x": 11}))

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Setting{
		{Key: "step_1_x", Value: 11},
		{Key: "step_1_y", Value: 20},
	}, all)
}

func TestSettings_SetManyIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	// Sabotage the second write with a trigger so the transaction fails
	// part-way through.
	_, err := s.db.Exec(`
		CREATE TRIGGER reject_b BEFORE INSERT ON settings
		WHEN NEW.key = 'b'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END
	`)
	require.NoError(t, err)

	err = s.SetMany(ctx, map[string]int{"a": 1, "b": 2, "c": 3})
	require.Error(t, err)

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "failed SetMany must not leave partial writes")
}

func TestSettings_Delete(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SetMany(ctx, map[string]int{"a": 1, "b": 2, "c": 3}))
	require.NoError(t, s.Delete(ctx, "a", "c", "missing"))

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Setting{{Key: "b", Value: 2}}, all)
}

func TestSettings_EmptyCallsAreNoOps(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.SetMany(t.Context(), nil))
	assert.NoError(t, s.Delete(t.Context()))
}
