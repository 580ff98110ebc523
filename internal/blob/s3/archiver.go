package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
)

// GrantArchiveStore provides read access to closed grants and their ledgers
// for archival purposes. The Postgres grant store satisfies this implicitly.
type GrantArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Grant, error)
	ListVestingEvents(ctx context.Context, grantID string) ([]domain.VestingEvent, error)
	ListExerciseRecords(ctx context.Context, grantID string) ([]domain.ExerciseRecord, error)
}

// grantLedger is the archived representation of one closed grant: the grant
// row together with its full event and record history.
type grantLedger struct {
	Grant           domain.Grant            `json:"grant"`
	VestingEvents   []domain.VestingEvent   `json:"vesting_events"`
	ExerciseRecords []domain.ExerciseRecord `json:"exercise_records"`
}

// ArchiveImpl implements domain.Archiver by querying closed grants,
// serializing each grant's complete ledger to JSONL, and uploading the result
// to S3.
//
// Deletion of the archived grants from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	grants GrantArchiveStore
	audit  domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, grants GrantArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		grants: grants,
		audit:  audit,
	}
}

// ArchiveClosedGrants exports every terminal grant last updated before the
// cutoff as one JSONL line per grant ledger, uploaded to
// archive/grants/YYYY-MM.jsonl. The archival event is recorded in the audit
// log and the number of archived grants is returned.
func (a *ArchiveImpl) ArchiveClosedGrants(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.grants.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed grants query: %w", err)
	}
	if len(closed) == 0 {
		return 0, nil
	}

	ledgers := make([]grantLedger, 0, len(closed))
	for _, g := range closed {
		events, err := a.grants.ListVestingEvents(ctx, g.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events for grant %s: %w", g.ID, err)
		}
		records, err := a.grants.ListExerciseRecords(ctx, g.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive records for grant %s: %w", g.ID, err)
		}
		ledgers = append(ledgers, grantLedger{
			Grant:           g,
			VestingEvents:   events,
			ExerciseRecords: records,
		})
	}

	buf, err := marshalJSONL(ledgers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed grants marshal: %w", err)
	}

	path := archivePath("grants", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive closed grants upload: %w", err)
	}

	count := int64(len(ledgers))

	if err := a.audit.Log(ctx, "archive.grants", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive closed grants audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/grants/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
