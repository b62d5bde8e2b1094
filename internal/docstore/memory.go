package docstore

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Memory is a map-backed Store for local development and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: slices.Clone(data)}, nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0, len(m.docs[collection]))
	for id, data := range m.docs[collection] {
		docs = append(docs, Document{ID: id, Data: slices.Clone(data)})
	}
	slices.SortFunc(docs, func(a, b Document) int { return strings.Compare(a.ID, b.ID) })
	return docs, nil
}

func (m *Memory) Put(_ context.Context, collection, id string, data json.RawMessage) error {
	if !validName(collection) || !validName(id) {
		return xerrors.Newf("invalid document path %q/%q", collection, id)
	}
	if !json.Valid(data) {
		return xerrors.Newf("document %s/%s is not valid json", collection, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]json.RawMessage)
	}
	m.docs[collection][id] = slices.Clone(data)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Seed loads documents from a JSON file shaped {"collection": {"id": {...}}}.
// Existing documents with the same path are replaced.
func (m *Memory) Seed(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read seed file %s", path)
	}
	return m.Load(ctx, path, b)
}

// Load is Seed for an in-memory document set; name only labels errors.
func (m *Memory) Load(ctx context.Context, name string, b []byte) error {
	var seed map[string]map[string]json.RawMessage
	if err := json.Unmarshal(b, &seed); err != nil {
		return xerrors.Wrapf(err, "parse seed %s", name)
	}
	for collection, docs := range seed {
		for id, data := range docs {
			if err := m.Put(ctx, collection, id, data); err != nil {
				return xerrors.Wrapf(err, "seed %s/%s", collection, id)
			}
		}
	}
	return nil
}

var _ Store = (*Memory)(nil)
