package index

import (
	"fmt"
	"strings"
)

// ShortTrigger generates the SQL for a category projection: a pair of
// triggers inserting into table after INSERT and after UPDATE OF value on
// Entry, restricted to entries of the given category. Category init.sql
// files are the usual home for the output.
//
// defn is the body of the insert, a VALUES clause or SELECT statement
// over NEW. For a category meeting whose values carry title and
// setting.date:
//
//	ShortTrigger("Short", "docs/meeting",
//	    `VALUES (NEW.oid, format('%s [%s]',
//	        json_extract(NEW.value,'$.title'),
//	        json_extract(NEW.value,'$.setting.date')))`, "")
//
// when optionally restricts the trigger further (ANDed onto the category
// predicate). The base schema deletes the old Short row before every
// value update, so the projection only ever inserts.
func ShortTrigger(table, cat, defn, when string) string {
	catName := camel(cat)
	whenClause := ""
	whenTag := ""
	if when != "" {
		whenClause = " AND " + when
		whenTag = fmt.Sprintf("%05x", checksum(when))
	}

	var b strings.Builder
	for _, op := range []string{"INSERT", "UPDATE OF value"} {
		opName := camel(strings.ToLower(strings.SplitN(op, " ", 2)[0]))
		fmt.Fprintf(&b,
			"CREATE TRIGGER IF NOT EXISTS %sTrigger%s%s%s\nAFTER %s ON Entry WHEN NEW.cat='%s'%s\nBEGIN\n  INSERT INTO %s\n  %s;\nEND;\n",
			table, opName, catName, whenTag, op, cat, whenClause, table, defn)
	}
	return b.String()
}

// camel turns a category path into a trigger-name fragment:
// docs/note -> DocsNote.
func camel(cat string) string {
	parts := strings.FieldsFunc(cat, func(r rune) bool { return r == '/' || r == '-' || r == '_' })
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func checksum(s string) int {
	n := 0
	for _, r := range s {
		n += int(r)
	}
	return n
}
