package meetings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
)

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, pferrors.IsNotFound(err))
}

func TestMemoryStore_UpdateUnknownIDReturnsZeroRows(t *testing.T) {
	store := NewMemoryStore()

	rows, err := store.Update(context.Background(), "missing", Update{Status: StatusPtr(StatusReady)})
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestMemoryStore_UpdateEmpty(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), "m1", "https://example.com/a.m4a"))

	_, err := store.Update(context.Background(), "m1", Update{})
	assert.True(t, pferrors.IsValidation(err))
}

func TestMemoryStore_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, "m1", "https://example.com/a.m4a"))

	rows, err := store.Update(ctx, "m1", Update{
		Status:     StatusPtr(StatusReady),
		Transcript: Text("hello"),
		Summary:    Text("summary"),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	_, err = store.Update(ctx, "m1", Update{Title: Text("Budget")})
	require.NoError(t, err)

	m, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, m.Status)
	assert.Equal(t, "https://example.com/a.m4a", m.AudioURL)
	require.NotNil(t, m.Transcript)
	assert.Equal(t, "hello", *m.Transcript)
	require.NotNil(t, m.Title)
	assert.Equal(t, "Budget", *m.Title)
	assert.Nil(t, m.TranscriptDiarized)
}

func TestMemoryStore_NullClearsField(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	text := "old"
	store.Put(&Meeting{ID: "m1", Transcript: &text})

	_, err := store.Update(ctx, "m1", Update{Transcript: Null()})
	require.NoError(t, err)

	m, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, m.Transcript)
	assert.Equal(t, StatusQueued, m.Status)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Put(&Meeting{ID: "m1", Diarization: &Diarization{
		Speakers: []Speaker{{ID: "speaker_1", Label: "Speaker 1"}},
	}})

	m, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	m.Diarization.Speakers[0].Label = "changed"

	again, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1", again.Diarization.Speakers[0].Label)
}
