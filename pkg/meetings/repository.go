package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// Repository is the PostgreSQL implementation of Store.
type Repository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewRepository creates a new meeting repository.
func NewRepository(pool *pgxpool.Pool, logger logging.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger.With(logging.F("component", "meeting_repository")),
	}
}

const selectMeeting = `
	SELECT id, status, audio_url, transcript, transcript_diarized,
	       diarization_json, summary, title, created_at, updated_at
	FROM meetings
	WHERE id = $1
`

// Get loads a meeting by id.
func (r *Repository) Get(ctx context.Context, id string) (*Meeting, error) {
	var m Meeting
	var status string
	var audioURL *string
	var diarizationJSON []byte

	err := r.pool.QueryRow(ctx, selectMeeting, id).Scan(
		&m.ID,
		&status,
		&audioURL,
		&m.Transcript,
		&m.TranscriptDiarized,
		&diarizationJSON,
		&m.Summary,
		&m.Title,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, pferrors.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get meeting", logging.Err(err), logging.F("meeting_id", id))
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	m.Status = Status(status)
	if audioURL != nil {
		m.AudioURL = *audioURL
	}
	if len(diarizationJSON) > 0 {
		var d Diarization
		if err := json.Unmarshal(diarizationJSON, &d); err != nil {
			return nil, fmt.Errorf("failed to decode diarization_json: %w", err)
		}
		m.Diarization = &d
	}

	return &m, nil
}

// Update applies a partial update and returns the number of rows affected.
func (r *Repository) Update(ctx context.Context, id string, u Update) (int64, error) {
	query, args, err := buildUpdate(id, u)
	if err != nil {
		return 0, err
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update meeting", logging.Err(err), logging.F("meeting_id", id))
		return 0, fmt.Errorf("failed to update meeting: %w", err)
	}

	r.logger.Debug("Meeting updated",
		logging.F("meeting_id", id),
		logging.F("rows", result.RowsAffected()))

	return result.RowsAffected(), nil
}

// Create inserts a queued meeting. Used by tooling; rows are normally created upstream.
func (r *Repository) Create(ctx context.Context, id, audioURL string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO meetings (id, status, audio_url, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, id, string(StatusQueued), audioURL)
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

// buildUpdate renders the UPDATE statement for the fields set in u.
func buildUpdate(id string, u Update) (string, []any, error) {
	if u.Empty() {
		return "", nil, fmt.Errorf("empty meeting update: %w", pferrors.ErrValidation)
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Transcript != nil {
		add("transcript", *u.Transcript)
	}
	if u.TranscriptDiarized != nil {
		add("transcript_diarized", *u.TranscriptDiarized)
	}
	if u.Diarization != nil {
		data, err := json.Marshal(u.Diarization)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode diarization: %w", err)
		}
		add("diarization_json", data)
	}
	if u.Summary != nil {
		add("summary", *u.Summary)
	}
	if u.Title != nil {
		add("title", *u.Title)
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE meetings SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, nil
}
