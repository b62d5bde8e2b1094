package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// AdvisoryKey is the well-known key the caller-side window is stored under.
const AdvisoryKey = "publicChatRateLimit"

// KV is the small persistent store the advisory limiter keeps its window
// in. The store itself is the identity scope: one KV per profile.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Advisory is the caller-side limiter. It mirrors the server's fixed window
// so a client can refuse locally instead of making a request the server
// would reject. It is advisory only, the server limiter is authoritative.
//
// Check and Increment are separate steps: callers increment only after the
// server accepted the request. Two processes sharing one KV can therefore
// both pass Check and exceed the maximum until the counter catches up; the
// server still enforces the real limit.
type Advisory struct {
	kv     KV
	key    string
	max    int
	window time.Duration
	now    func() time.Time

	// OnCorrupt is called when the stored window cannot be decoded and is discarded
	OnCorrupt func(err error)
}

// AdvisoryOptions configures an Advisory limiter. Zero values use the defaults.
type AdvisoryOptions struct {
	Key       string
	Max       int
	Window    time.Duration
	Now       func() time.Time
	OnCorrupt func(err error)
}

// NewAdvisory returns an advisory limiter persisting into kv.
func NewAdvisory(kv KV, o AdvisoryOptions) *Advisory {
	a := &Advisory{
		kv:        kv,
		key:       o.Key,
		max:       o.Max,
		window:    o.Window,
		now:       o.Now,
		OnCorrupt: o.OnCorrupt,
	}
	if a.key == "" {
		a.key = AdvisoryKey
	}
	if a.max <= 0 {
		a.max = DefaultMaxRequests
	}
	if a.window <= 0 {
		a.window = DefaultWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// load returns the stored window, or false when there is none. Corrupt state
// is treated exactly like no state (fail open).
func (a *Advisory) load() (Window, bool) {
	raw, ok := a.kv.Get(a.key)
	if !ok {
		return Window{}, false
	}
	w, err := DecodeWindow(raw)
	if err != nil {
		if a.OnCorrupt != nil {
			a.OnCorrupt(err)
		}
		return Window{}, false
	}
	return w, true
}

// store persists w; write failures are dropped since the limiter is advisory
func (a *Advisory) store(w Window) {
	_ = a.kv.Set(a.key, w.Encode())
}

// Check reports whether another request should be attempted. A missing or
// expired window is replaced by a fresh one and persisted.
func (a *Advisory) Check() Decision {
	now := a.now()
	w, ok := a.load()
	if !ok || w.expired(now) {
		w = newWindow(now, a.window)
		a.store(w)
	}
	return w.decision(a.max)
}

// Increment records one accepted request.
func (a *Advisory) Increment() {
	now := a.now()
	w, ok := a.load()
	if !ok || w.expired(now) {
		w = newWindow(now, a.window)
	}
	w.Count++
	a.store(w)
}

// Remaining returns how many requests are left and when the window resets.
func (a *Advisory) Remaining() (int, time.Time) {
	d := a.Check()
	return d.Remaining, d.ResetAt
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{m: make(map[string]string)} }

func (kv *MemoryKV) Get(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok
}

func (kv *MemoryKV) Set(key, value string) error {
	kv.mu.Lock()
	kv.m[key] = value
	kv.mu.Unlock()
	return nil
}

// FileKV is a KV kept in a single JSON object file, the terminal client's
// equivalent of browser local storage. Writes replace the file atomically.
type FileKV struct {
	mu   sync.Mutex
	path string
}

func NewFileKV(path string) *FileKV { return &FileKV{path: path} }

// read returns the file's contents; an unreadable or malformed file reads as empty
func (kv *FileKV) read() map[string]string {
	m := make(map[string]string)
	b, err := os.ReadFile(kv.path)
	if err != nil {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return make(map[string]string)
	}
	return m
}

func (kv *FileKV) Get(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.read()[key]
	return v, ok
}

func (kv *FileKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	m := kv.read()
	m[key] = value
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "encode state file")
	}

	dir := filepath.Dir(kv.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return xerrors.Wrapf(err, "create state dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return xerrors.Wrap(err, "create temp state file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "write temp state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(err, "close temp state file")
	}
	if err := os.Rename(tmpPath, kv.path); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrapf(err, "replace state file %s", kv.path)
	}
	return nil
}
