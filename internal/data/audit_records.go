package data

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"

	"github.com/roadscope/rs-fleet/internal/audit"
)

// AuditRecordModel is the database path of the audit ledger. Append is
// the only write; records are never updated, and deletion happens solely
// through the retention sweep.
type AuditRecordModel struct {
	DB DBTX
}

const auditRecordColumns = `
	record_id, sequence_number, event_type, action, user_id, user_roles,
	resource, resource_id, occurred_at, ip_address, user_agent, result,
	sensitivity, details, session_id, geo, previous_record_hash,
	record_hash, blockchain_verified, retention_days, auto_delete_at,
	created_at`

// Append persists one record as a single insert. Idempotent on record_id
// so spool replay cannot double-insert.
func (m AuditRecordModel) Append(ctx context.Context, rec *audit.ImmutableAuditRecord) error {
	query := `
		INSERT INTO audit_records (` + auditRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (record_id) DO NOTHING`

	details, err := marshalNullable(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	geo, err := marshalNullable(rec.Geo)
	if err != nil {
		return fmt.Errorf("marshal geo: %w", err)
	}

	_, err = m.DB.ExecContext(ctx, query,
		rec.RecordID, int64(rec.SequenceNumber), rec.EventType, rec.Action,
		rec.UserID, pq.Array(rec.UserRoles), rec.Resource, rec.ResourceID,
		rec.Timestamp, nullString(rec.IPAddress), nullString(rec.UserAgent),
		rec.Result, rec.Sensitivity, details, nullString(rec.SessionID),
		geo, rec.PreviousRecordHash, rec.RecordHash, rec.BlockchainVerified,
		rec.RetentionDays, nullTime(rec.AutoDeleteAt), rec.CreatedAt,
	)
	return err
}

// Latest returns the most recently committed record, or nil when the
// ledger has none. Initialize adopts its hash and sequence.
func (m AuditRecordModel) Latest(ctx context.Context) (*audit.ImmutableAuditRecord, error) {
	query := `
		SELECT ` + auditRecordColumns + `
		FROM audit_records
		ORDER BY sequence_number DESC
		LIMIT 1`

	rec, err := scanAuditRecord(m.DB.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetByID fetches one record.
func (m AuditRecordModel) GetByID(ctx context.Context, recordID string) (*audit.ImmutableAuditRecord, error) {
	query := `
		SELECT ` + auditRecordColumns + `
		FROM audit_records
		WHERE record_id = $1`

	rec, err := scanAuditRecord(m.DB.QueryRowContext(ctx, query, recordID))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// AuditRecordFilter narrows review queries. Cursor is an exclusive upper
// bound on sequence_number; zero means "from the newest".
type AuditRecordFilter struct {
	EventType string
	UserID    string
	Result    string
	Resource  string
	From      *time.Time
	To        *time.Time
	Cursor    uint64
	Limit     int
}

// Query returns matching records newest-first plus the cursor for the
// next page (zero when exhausted).
func (m AuditRecordModel) Query(ctx context.Context, filter AuditRecordFilter) ([]*audit.ImmutableAuditRecord, uint64, error) {
	where := "WHERE 1=1"
	args := []any{}
	nextArg := 1

	if filter.EventType != "" {
		where += fmt.Sprintf(" AND event_type = $%d", nextArg)
		args = append(args, filter.EventType)
		nextArg++
	}
	if filter.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", nextArg)
		args = append(args, filter.UserID)
		nextArg++
	}
	if filter.Result != "" {
		where += fmt.Sprintf(" AND result = $%d", nextArg)
		args = append(args, filter.Result)
		nextArg++
	}
	if filter.Resource != "" {
		where += fmt.Sprintf(" AND resource = $%d", nextArg)
		args = append(args, filter.Resource)
		nextArg++
	}
	if filter.From != nil {
		where += fmt.Sprintf(" AND occurred_at >= $%d", nextArg)
		args = append(args, *filter.From)
		nextArg++
	}
	if filter.To != nil {
		where += fmt.Sprintf(" AND occurred_at <= $%d", nextArg)
		args = append(args, *filter.To)
		nextArg++
	}
	if filter.Cursor > 0 {
		where += fmt.Sprintf(" AND sequence_number < $%d", nextArg)
		args = append(args, int64(filter.Cursor))
		nextArg++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT `+auditRecordColumns+`
		FROM audit_records
		%s
		ORDER BY sequence_number DESC
		LIMIT $%d`, where, nextArg)
	args = append(args, limit)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*audit.ImmutableAuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var next uint64
	if len(records) == limit && len(records) > 0 {
		next = records[len(records)-1].SequenceNumber
	}
	return records, next, nil
}

// Range returns records with sequence numbers in [from, to], ascending.
// The offline chain verifier walks the ledger through this in batches.
func (m AuditRecordModel) Range(ctx context.Context, from, to uint64, limit int) ([]*audit.ImmutableAuditRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + auditRecordColumns + `
		FROM audit_records
		WHERE sequence_number >= $1 AND sequence_number <= $2
		ORDER BY sequence_number ASC
		LIMIT $3`

	rows, err := m.DB.QueryContext(ctx, query, int64(from), int64(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*audit.ImmutableAuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MaxSequence reports the highest committed sequence number (0 if none).
func (m AuditRecordModel) MaxSequence(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	err := m.DB.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM audit_records`).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// Export streams matching records to w as JSONL, oldest-first, up to
// maxRecords. Returns the number written.
func (m AuditRecordModel) Export(ctx context.Context, w io.Writer, filter AuditRecordFilter, maxRecords int) (int, error) {
	if maxRecords <= 0 {
		maxRecords = 10000
	}
	filter.Limit = maxRecords
	filter.Cursor = 0

	records, _, err := m.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	written := 0
	// Query returns newest-first; exports read bottom-up.
	for i := len(records) - 1; i >= 0; i-- {
		if err := enc.Encode(records[i]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// DeleteExpired removes records whose auto_delete_at has passed. Null
// expiry means indefinite retention and is never touched. Only the
// retention sweep calls this.
func (m AuditRecordModel) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM audit_records WHERE auto_delete_at IS NOT NULL AND auto_delete_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditRecord(row rowScanner) (*audit.ImmutableAuditRecord, error) {
	var (
		rec        audit.ImmutableAuditRecord
		seq        int64
		roles      []string
		ip, ua     sql.NullString
		details    []byte
		sessionID  sql.NullString
		geo        []byte
		autoDelete sql.NullTime
	)

	err := row.Scan(
		&rec.RecordID, &seq, &rec.EventType, &rec.Action, &rec.UserID,
		pq.Array(&roles), &rec.Resource, &rec.ResourceID, &rec.Timestamp,
		&ip, &ua, &rec.Result, &rec.Sensitivity, &details, &sessionID,
		&geo, &rec.PreviousRecordHash, &rec.RecordHash,
		&rec.BlockchainVerified, &rec.RetentionDays, &autoDelete,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SequenceNumber = uint64(seq)
	rec.UserRoles = roles
	rec.IPAddress = ip.String
	rec.UserAgent = ua.String
	rec.SessionID = sessionID.String
	if len(details) > 0 {
		// json.Number keeps the stored digits exact; plain float64
		// readback would corrupt large integers and change the
		// recomputed hash.
		dec := json.NewDecoder(bytes.NewReader(details))
		dec.UseNumber()
		if err := dec.Decode(&rec.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	if len(geo) > 0 {
		rec.Geo = &audit.GeoLocation{}
		if err := json.Unmarshal(geo, rec.Geo); err != nil {
			return nil, fmt.Errorf("unmarshal geo: %w", err)
		}
	}
	if autoDelete.Valid {
		t := autoDelete.Time
		rec.AutoDeleteAt = &t
	}
	// Stored records were durably written by definition of being read
	// back; the runtime flags are not persisted.
	rec.StorageLocations = audit.StorageLocations{Database: true}
	return &rec, nil
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case *audit.GeoLocation:
		if val == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
