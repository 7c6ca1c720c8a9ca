package catalog

import (
	"fmt"
	"time"
)

// Document is a fetched copy of the remote catalog: the raw bytes as served
// and the parsed snapshot.
type Document struct {
	Raw      []byte
	Snapshot *Snapshot
}

func ParseDocument(raw []byte) (Document, error) {
	snapshot, err := ParseSnapshot(raw)
	if err != nil {
		return Document{}, fmt.Errorf("parse catalog document: %w", err)
	}
	snapshot.FetchedAt = time.Now().UTC()
	return Document{Raw: raw, Snapshot: snapshot}, nil
}

func (d Document) Fingerprint(now time.Time) Fingerprint {
	return NewFingerprint(d.Raw, d.Snapshot.Len(), now)
}
