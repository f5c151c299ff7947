package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Entry is one row of the index: a JSON metadata record paired with an
// attachment directory.
//
// oid is assigned on creation, monotonically, and never reused within an
// instance's lifetime (it may be renumbered by a full re-initialization).
// uid is permanent: assigned once at first creation and carried verbatim
// through every dump/load cycle.
type Entry struct {
	OID      int64           `json:"oid"`
	UID      string          `json:"uid"`
	Version  int64           `json:"version"`
	Cat      string          `json:"cat"`
	Value    json.RawMessage `json:"value"`
	Attach   string          `json:"attach"`
	Created  string          `json:"created"`
	Modified string          `json:"modified"`
	Access   *string         `json:"access"`
	Memo     json.RawMessage `json:"memo"`

	// Short is the derived display projection, populated on reads from
	// the EntryShort view. Never written directly.
	Short string `json:"short,omitempty"`
}

const entryShortColumns = "oid,uid,version,cat,value,attach,created,modified,access,memo,short"

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var value string
	var attach, access, memo, short sql.NullString
	err := r.Scan(&e.OID, &e.UID, &e.Version, &e.Cat, &value, &attach,
		&e.Created, &e.Modified, &access, &memo, &short)
	if err != nil {
		return Entry{}, err
	}
	e.Value = json.RawMessage(value)
	e.Attach = attach.String
	if access.Valid {
		e.Access = &access.String
	}
	if memo.Valid && memo.String != "" {
		e.Memo = json.RawMessage(memo.String)
	}
	e.Short = short.String
	return e, nil
}

// marshalJSONColumn renders a JSON column value for storage. A nil raw
// message stores SQL NULL (memo) or is rejected (value) by the caller.
func marshalJSONColumn(raw json.RawMessage) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return string(raw), nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
