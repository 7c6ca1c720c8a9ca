package store

import "time"

// Submission kinds.
const (
	KindSubmit = "submit"
	KindSave   = "save"
)

// Submission is one attempt to publish pending changes, successful or not.
type Submission struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId,omitempty"`
	Kind          string    `json:"kind"`
	Outcome       string    `json:"outcome"`
	Branch        string    `json:"branch,omitempty"`
	PRNumber      int       `json:"prNumber,omitempty"`
	PRURL         string    `json:"prUrl,omitempty"`
	ChangesCount  int       `json:"changesCount"`
	FieldsChanged int       `json:"fieldsChanged"`
	ItemsAdded    int       `json:"itemsAdded"`
	Skipped       []string  `json:"skipped,omitempty"`
	DataHash      string    `json:"dataHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMS    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ArchivedEdit is an edit-log record kept after its changes were submitted.
type ArchivedEdit struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	SessionID    string    `json:"sessionId,omitempty"`
	ItemID       string    `json:"itemId"`
	ItemTitle    string    `json:"itemTitle"`
	Field        string    `json:"field"`
	OldValue     any       `json:"oldValue"`
	NewValue     any       `json:"newValue"`
	EditedAt     time.Time `json:"editedAt"`
	ArchivedAt   time.Time `json:"archivedAt"`
}
