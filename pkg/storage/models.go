package storage

import (
	"database/sql"
	"time"
)

// SubmissionRecord is one submitted operation and its last known status
type SubmissionRecord struct {
	Signature    string
	Kind         string
	Payer        string
	Accounts     string // JSON object of role to address
	Precondition uint64
	Status       string
	Reason       string
	Slot         uint64
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

// SaveSubmission records a new submission or replaces an existing one
func (s *Store) SaveSubmission(record *SubmissionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO submissions (
			signature, kind, payer, accounts, precondition,
			status, reason, slot, submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(signature) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			slot = excluded.slot,
			updated_at = CURRENT_TIMESTAMP
	`, record.Signature, record.Kind, record.Payer, record.Accounts, int64(record.Precondition),
		record.Status, record.Reason, int64(record.Slot), record.SubmittedAt.UTC())
	return err
}

// UpdateSubmissionStatus records a newly observed status. It returns false
// when the signature is not in the journal.
func (s *Store) UpdateSubmissionStatus(signature, status, reason string, slot uint64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE submissions
		SET status = ?, reason = ?, slot = ?, updated_at = CURRENT_TIMESTAMP
		WHERE signature = ?
	`, status, reason, int64(slot), signature)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const submissionColumns = `signature, kind, payer, accounts, precondition,
		status, reason, slot, submitted_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*SubmissionRecord, error) {
	record := &SubmissionRecord{}
	var precondition, slot int64
	err := row.Scan(
		&record.Signature, &record.Kind, &record.Payer, &record.Accounts, &precondition,
		&record.Status, &record.Reason, &slot, &record.SubmittedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Precondition = uint64(precondition)
	record.Slot = uint64(slot)
	return record, nil
}

// GetSubmission retrieves a submission by signature
func (s *Store) GetSubmission(signature string) (*SubmissionRecord, error) {
	record, err := scanSubmission(s.db.QueryRow(
		"SELECT "+submissionColumns+" FROM submissions WHERE signature = ?", signature))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// ListSubmissions returns the most recent submissions, optionally only those
// with the given status
func (s *Store) ListSubmissions(status string, limit int) ([]*SubmissionRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(
			"SELECT "+submissionColumns+" FROM submissions ORDER BY submitted_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(
			"SELECT "+submissionColumns+" FROM submissions WHERE status = ? ORDER BY submitted_at DESC LIMIT ?",
			status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SubmissionRecord
	for rows.Next() {
		record, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetSubmissionCount returns the count of submissions by status
func (s *Store) GetSubmissionCount(status string) (int, error) {
	var count int
	var err error
	if status == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM submissions").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM submissions WHERE status = ?", status).Scan(&count)
	}
	return count, err
}
