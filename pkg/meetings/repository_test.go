package meetings

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-meetings/pkg/db"
	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

func TestBuildUpdate(t *testing.T) {
	query, args, err := buildUpdate("m1", Update{
		Status:     StatusPtr(StatusProcessingFailed),
		Transcript: Null(),
		Summary:    Text("try again"),
	})
	require.NoError(t, err)

	assert.Equal(t, "UPDATE meetings SET status = $1, transcript = $2, summary = $3, updated_at = NOW() WHERE id = $4", query)
	require.Len(t, args, 4)
	assert.Equal(t, "processing_failed", args[0])
	assert.Equal(t, pgtype.Text{}, args[1])
	assert.Equal(t, pgtype.Text{String: "try again", Valid: true}, args[2])
	assert.Equal(t, "m1", args[3])
}

func TestBuildUpdate_Diarization(t *testing.T) {
	query, args, err := buildUpdate("m1", Update{
		Diarization:        &Diarization{Speakers: []Speaker{{ID: "speaker_1", Label: "Maria"}}, Segments: []Segment{}},
		TranscriptDiarized: Text("Maria: hi"),
	})
	require.NoError(t, err)

	assert.Equal(t, "UPDATE meetings SET transcript_diarized = $1, diarization_json = $2, updated_at = NOW() WHERE id = $3", query)
	assert.JSONEq(t, `{"speakers":[{"id":"speaker_1","label":"Maria"}],"segments":[]}`, string(args[1].([]byte)))
}

func TestBuildUpdate_Empty(t *testing.T) {
	_, _, err := buildUpdate("m1", Update{})
	assert.True(t, pferrors.IsValidation(err))
}

func TestRepository_Integration(t *testing.T) {
	url := os.Getenv("PENF_MEETINGS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PENF_MEETINGS_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectURL(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	_, err = db.RunMigrations(ctx, pool, db.Migrations())
	require.NoError(t, err)

	repo := NewRepository(pool, logging.NewNopLogger())
	id := "test-" + uuid.NewString()
	require.NoError(t, repo.Create(ctx, id, "https://example.com/audio.m4a"))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM meetings WHERE id = $1", id)
	})

	rows, err := repo.Update(ctx, id, Update{
		Status:     StatusPtr(StatusReady),
		Transcript: Text("hello"),
		Title:      Text("Budget"),
		Diarization: &Diarization{
			Speakers: []Speaker{{ID: "speaker_1", Label: "Maria"}},
			Segments: []Segment{{SpeakerID: "speaker_1", Text: "hello"}},
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	m, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, m.Status)
	require.NotNil(t, m.Transcript)
	assert.Equal(t, "hello", *m.Transcript)
	require.NotNil(t, m.Diarization)
	assert.Equal(t, "Maria", m.Diarization.Speakers[0].Label)

	rows, err = repo.Update(ctx, "missing-"+uuid.NewString(), Update{Summary: Text("x")})
	require.NoError(t, err)
	assert.Zero(t, rows)

	_, err = repo.Get(ctx, "missing-"+uuid.NewString())
	assert.True(t, pferrors.IsNotFound(err))
}
