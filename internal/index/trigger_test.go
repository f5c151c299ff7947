package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cairndb/cairn/internal/schema"
)

func TestShortTrigger_Golden(t *testing.T) {
	sql := ShortTrigger("Short", "docs/meeting",
		`VALUES (NEW.oid, json_extract(NEW.value,'$.title'))`, "")

	g := goldie.New(t)
	g.Assert(t, "short_trigger", []byte(sql))
}

func TestShortTrigger_ProjectionOverridesDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	init := schema.Initializer{
		Cat: "docs/meeting",
		SQL: ShortTrigger("Short", "docs/meeting",
			`VALUES (NEW.oid, 'M: ' || json_extract(NEW.value,'$.title'))`, ""),
	}
	if err := s.InstallInitializers(ctx, []schema.Initializer{init}); err != nil {
		t.Fatalf("InstallInitializers() failed: %v", err)
	}

	// The category's trigger projects the short; the default backfill must
	// not overwrite it.
	e, err := s.Create(ctx, "docs/meeting", json.RawMessage(`{"title":"standup"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if e.Short != "M: standup" {
		t.Errorf("short = %q, want %q", e.Short, "M: standup")
	}

	// Other categories still get the default projection.
	other, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"plain"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if other.Short != "plain" {
		t.Errorf("short = %q, want %q", other.Short, "plain")
	}

	// Updates re-derive through the same trigger.
	up, err := s.Update(ctx, e.OID, 1, json.RawMessage(`{"title":"retro"}`), nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if up.Short != "M: retro" {
		t.Errorf("short after update = %q, want %q", up.Short, "M: retro")
	}
}

func TestCamel(t *testing.T) {
	cases := map[string]string{
		"docs/note":    "DocsNote",
		"album":        "Album",
		"a-b_c/d":      "ABCD",
		"docs/meeting": "DocsMeeting",
	}
	for in, want := range cases {
		if got := camel(in); got != want {
			t.Errorf("camel(%q) = %q, want %q", in, got, want)
		}
	}
}
