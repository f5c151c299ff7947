package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/internal/errs"
)

// Create inserts a new entry. The value is validated against the category
// schema first; the insert, the attach-path assignment, every
// category-declared derived row and the Short backfill all commit in one
// transaction or not at all.
//
// Returns the stored entry with oid/uid assigned and version=1.
func (s *Store) Create(ctx context.Context, cat string, value json.RawMessage, access *string, memo json.RawMessage) (Entry, error) {
	if !s.validator.Has(cat) {
		return Entry{}, errs.NotFound("category " + cat)
	}
	if err := s.validator.ValidateRaw(cat, value); err != nil {
		return Entry{}, err
	}

	valueCol, err := marshalJSONColumn(value)
	if err != nil || valueCol == nil {
		return Entry{}, errs.Validation(cat, []errs.Violation{{Message: "value must be a JSON document"}})
	}
	memoCol, err := marshalJSONColumn(memo)
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: memo: %w", err)
	}

	uid, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: mint uid: %w", err)
	}
	now := s.now.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO Entry (uid, version, cat, value, attach, created, modified, access, memo)
		VALUES (?, 1, ?, ?, NULL, ?, ?, ?, ?)
	`, uid.String(), cat, valueCol, now, now, nullable(access), memoCol)
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: insert: %w", err)
	}
	oid, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE Entry SET attach=? WHERE oid=?`, s.namer(oid), oid); err != nil {
		return Entry{}, fmt.Errorf("create entry: assign attach: %w", err)
	}
	if err := backfillShort(ctx, tx, oid); err != nil {
		return Entry{}, fmt.Errorf("create entry: %w", err)
	}

	entry, err := getTx(ctx, tx, oid)
	if err != nil {
		return Entry{}, fmt.Errorf("create entry: read back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("create entry: commit: %w", err)
	}
	return entry, nil
}

// Update replaces an entry's value and access level. Fails with
// VersionConflict unless the stored version equals expectedVersion; the
// caller must re-read and retry. The version increments by exactly one,
// modified is refreshed and Short is re-derived, all in one transaction.
func (s *Store) Update(ctx context.Context, oid, expectedVersion int64, value json.RawMessage, access *string) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: begin tx: %w", err)
	}
	defer tx.Rollback()

	var cat string
	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT cat, version FROM Entry WHERE oid=?`, oid).Scan(&cat, &stored)
	if err != nil {
		if isNoRows(err) {
			return Entry{}, errs.NotFound(fmt.Sprintf("oid %d", oid))
		}
		return Entry{}, fmt.Errorf("update entry: read version: %w", err)
	}
	if stored != expectedVersion {
		return Entry{}, errs.VersionConflict(fmt.Sprintf("oid %d", oid), expectedVersion, stored)
	}

	if err := s.validator.ValidateRaw(cat, value); err != nil {
		return Entry{}, err
	}
	valueCol, err := marshalJSONColumn(value)
	if err != nil || valueCol == nil {
		return Entry{}, errs.Validation(cat, []errs.Violation{{Message: "value must be a JSON document"}})
	}

	// Guarded update: the version predicate re-checks under the write
	// lock, so a writer that raced past the read above still loses.
	res, err := tx.ExecContext(ctx, `
		UPDATE Entry SET version=?, value=?, modified=?, access=?
		WHERE oid=? AND version=?
	`, expectedVersion+1, valueCol, s.now.Now(), nullable(access), oid, expectedVersion)
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: rows affected: %w", err)
	}
	if n == 0 {
		return Entry{}, errs.VersionConflict(fmt.Sprintf("oid %d", oid), expectedVersion, stored)
	}

	if err := backfillShort(ctx, tx, oid); err != nil {
		return Entry{}, fmt.Errorf("update entry: %w", err)
	}
	entry, err := getTx(ctx, tx, oid)
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: read back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("update entry: commit: %w", err)
	}
	return entry, nil
}

// Delete removes an entry and every row derived from it (Short via the
// base cleanup trigger, category tables via their own triggers). Returns
// the entry's attach path so the caller can cascade the attachment
// subtree removal after the transaction commits.
func (s *Store) Delete(ctx context.Context, oid int64) (attach string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("delete entry: begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `SELECT attach FROM Entry WHERE oid=?`, oid).Scan(&attach)
	if err != nil {
		if isNoRows(err) {
			return "", errs.NotFound(fmt.Sprintf("oid %d", oid))
		}
		return "", fmt.Errorf("delete entry: read attach: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM Entry WHERE oid=?`, oid); err != nil {
		return "", fmt.Errorf("delete entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("delete entry: commit: %w", err)
	}
	return attach, nil
}

// backfillShort guarantees the one-Short-per-Entry invariant. Category
// projection triggers have already fired by the time this runs inside the
// mutation transaction; only entries whose category declares no
// projection get the default (title if present, else cat #oid).
func backfillShort(ctx context.Context, tx execer, oid int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO Short (entry, value)
		SELECT oid, COALESCE(json_extract(value, '$.title'), cat || ' #' || oid)
		FROM Entry
		WHERE oid = ? AND NOT EXISTS (SELECT 1 FROM Short WHERE entry = ?)
	`, oid, oid)
	if err != nil {
		return fmt.Errorf("backfill short: %w", err)
	}
	return nil
}
