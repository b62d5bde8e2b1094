package docstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemory_PutGetList(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	if _, err := m.Get(ctx, CollectionProjects, "site"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	for _, id := range []string{"b", "a", "c"} {
		if err := m.Put(ctx, CollectionProjects, id, json.RawMessage(`{"title":"`+id+`"}`)); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := m.List(ctx, CollectionProjects)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 || docs[0].ID != "a" || docs[2].ID != "c" {
		t.Fatalf("List = %+v", docs)
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	_ = m.Put(ctx, CollectionSkills, "go", json.RawMessage(`{"n":1}`))

	doc, _ := m.Get(ctx, CollectionSkills, "go")
	doc.Data[2] = 'X'

	again, _ := m.Get(ctx, CollectionSkills, "go")
	if string(again.Data) != `{"n":1}` {
		t.Fatalf("stored document was mutated: %s", again.Data)
	}
}

func TestMemory_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `{
		"personalInfo": {"main": {"name": "Ada", "title": "Engineer"}},
		"skills": {"go": {"name": "Go", "order": 1}, "sql": {"name": "SQL", "order": 2}}
	}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewMemory()
	if err := m.Seed(t.Context(), path); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if _, err := m.Get(t.Context(), CollectionPersonalInfo, MainID); err != nil {
		t.Fatalf("seeded profile missing: %v", err)
	}
	skills, _ := m.List(t.Context(), CollectionSkills)
	if len(skills) != 2 {
		t.Fatalf("skills = %d, want 2", len(skills))
	}

	if err := m.Seed(t.Context(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing seed file should fail")
	}
}

func TestInstrument_ObservesAndPassesThrough(t *testing.T) {
	type call struct {
		backend, op string
		err         error
	}
	var calls []call
	s := Instrument(NewMemory(), "memory", func(backend, op string, _ time.Duration, err error) {
		calls = append(calls, call{backend, op, err})
	})
	ctx := t.Context()

	_ = s.Put(ctx, CollectionSkills, "go", json.RawMessage(`{}`))
	_, _ = s.Get(ctx, CollectionSkills, "go")
	_, err := s.Get(ctx, CollectionSkills, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ErrNotFound should pass through, got %v", err)
	}
	_, _ = s.List(ctx, CollectionSkills)
	_ = s.Ping(ctx)

	want := []string{"put", "get", "get", "list", "ping"}
	if len(calls) != len(want) {
		t.Fatalf("observed %d calls, want %d", len(calls), len(want))
	}
	for i, op := range want {
		if calls[i].op != op || calls[i].backend != "memory" {
			t.Errorf("call %d = %+v, want op %s", i, calls[i], op)
		}
	}
	if !errors.Is(calls[2].err, ErrNotFound) {
		t.Errorf("observer should see the not-found error")
	}
}

func TestMemory_LoadRejectsMalformed(t *testing.T) {
	m := NewMemory()
	err := m.Load(t.Context(), "inline", []byte(`{"skills": [1, 2]}`))
	if err == nil {
		t.Fatal("expected error for a collection that is not an object")
	}
	if !strings.Contains(err.Error(), "inline") {
		t.Fatalf("error %q does not name the source", err)
	}
}
