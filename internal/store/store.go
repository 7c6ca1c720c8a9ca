package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/util"
)

var ErrNotFound = errors.New("not found")

// SQLStore records submissions and the edit history they published.
type SQLStore struct {
	db  *DB
	now func() time.Time
}

func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) DB() *DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertSubmission stores sub, filling ID and CreatedAt when empty.
func (s *SQLStore) InsertSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if sub.ID == "" {
		sub.ID = util.NewID("sub")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	if sub.Skipped == nil {
		sub.Skipped = []string{}
	}
	skipped, err := json.Marshal(sub.Skipped)
	if err != nil {
		return Submission{}, fmt.Errorf("marshal skipped ids: %w", err)
	}

	_, err = s.db.exec(ctx, `
		INSERT INTO submissions (
			id, session_id, kind, outcome, branch, pr_number, pr_url,
			changes_count, fields_changed, items_added, skipped, data_hash,
			error_message, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.SessionID, sub.Kind, sub.Outcome, sub.Branch, sub.PRNumber, sub.PRURL,
		sub.ChangesCount, sub.FieldsChanged, sub.ItemsAdded, string(skipped), sub.DataHash,
		sub.Error, sub.DurationMS, sub.CreatedAt)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

const submissionColumns = `id, session_id, kind, outcome, branch, pr_number, pr_url,
	changes_count, fields_changed, items_added, skipped, data_hash, error_message, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (Submission, error) {
	var sub Submission
	var skipped string
	if err := row.Scan(
		&sub.ID,
		&sub.SessionID,
		&sub.Kind,
		&sub.Outcome,
		&sub.Branch,
		&sub.PRNumber,
		&sub.PRURL,
		&sub.ChangesCount,
		&sub.FieldsChanged,
		&sub.ItemsAdded,
		&skipped,
		&sub.DataHash,
		&sub.Error,
		&sub.DurationMS,
		&sub.CreatedAt,
	); err != nil {
		return Submission{}, err
	}
	_ = json.Unmarshal([]byte(skipped), &sub.Skipped)
	sub.CreatedAt = sub.CreatedAt.UTC()
	return sub, nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.queryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns the newest submissions first. An empty sessionID
// lists every session.
func (s *SQLStore) ListSubmissions(ctx context.Context, sessionID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE (? = '' OR session_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

// ArchiveHistory stores the edit-log records that went into a submission.
func (s *SQLStore) ArchiveHistory(ctx context.Context, submissionID, sessionID string, records []ledger.Record) error {
	if len(records) == 0 {
		return nil
	}
	archivedAt := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.db.Rebind(`
		INSERT INTO archived_history (
			id, submission_id, session_id, item_id, item_title, field,
			old_value, new_value, edited_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, record := range records {
		oldValue, err := json.Marshal(record.OldValue)
		if err != nil {
			return fmt.Errorf("marshal old value: %w", err)
		}
		newValue, err := json.Marshal(record.NewValue)
		if err != nil {
			return fmt.Errorf("marshal new value: %w", err)
		}
		id := record.ID
		if id == "" {
			id = util.NewID("hist")
		}
		if _, err := tx.ExecContext(ctx, insert,
			submissionID+":"+id, submissionID, sessionID, record.ItemID, record.ItemTitle, string(record.Field),
			string(oldValue), string(newValue), record.Timestamp.UTC(), archivedAt,
		); err != nil {
			return fmt.Errorf("archive history record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// ArchivedHistory lists archived edits, oldest first. Either filter may be
// empty.
func (s *SQLStore) ArchivedHistory(ctx context.Context, submissionID, itemID string, limit int) ([]ArchivedEdit, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.query(ctx, `
		SELECT id, submission_id, session_id, item_id, item_title, field, old_value, new_value, edited_at, archived_at
		FROM archived_history
		WHERE (? = '' OR submission_id = ?)
		  AND (? = '' OR item_id = ?)
		ORDER BY edited_at ASC, id ASC
		LIMIT ?
	`, submissionID, submissionID, itemID, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived history: %w", err)
	}
	defer rows.Close()

	items := make([]ArchivedEdit, 0)
	for rows.Next() {
		var item ArchivedEdit
		var oldRaw, newRaw string
		if err := rows.Scan(
			&item.ID,
			&item.SubmissionID,
			&item.SessionID,
			&item.ItemID,
			&item.ItemTitle,
			&item.Field,
			&oldRaw,
			&newRaw,
			&item.EditedAt,
			&item.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived history: %w", err)
		}
		item.OldValue = decodeValue(oldRaw)
		item.NewValue = decodeValue(newRaw)
		item.EditedAt = item.EditedAt.UTC()
		item.ArchivedAt = item.ArchivedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived history: %w", err)
	}
	return items, nil
}

func decodeValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	return v
}
