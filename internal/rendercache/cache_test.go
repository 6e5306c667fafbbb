package rendercache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/database"
	"github.com/iabetor/pivox/internal/query"
)

func openDB(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := New(openDB(t, filepath.Join(t.TempDir(), "cache.db")), maxBytes, "1")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func testQuery() *query.AudioQuery {
	return query.New([]query.AccentPhrase{{
		Moras:  []query.Mora{{Text: "ア", Vowel: "a", VowelLength: 0.1, Pitch: 5.5}},
		Accent: 1,
	}}, "ア'")
}

func TestKey(t *testing.T) {
	id := uuid.New()
	q := testQuery()
	a, err := Key(id, 0, true, q)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Key(id, 0, true, q.Clone())
	if a != b {
		t.Error("equal inputs should give equal keys")
	}

	variants := map[string]func() (string, error){
		"style":   func() (string, error) { return Key(id, 1, true, q) },
		"upspeak": func() (string, error) { return Key(id, 0, false, q) },
		"model":   func() (string, error) { return Key(uuid.New(), 0, true, q) },
		"query": func() (string, error) {
			c := q.Clone()
			c.SpeedScale = 1.5
			return Key(id, 0, true, c)
		},
	}
	for name, fn := range variants {
		k, err := fn()
		if err != nil {
			t.Fatal(err)
		}
		if k == a {
			t.Errorf("%s change should change the key", name)
		}
	}
}

func TestGetPut(t *testing.T) {
	c := newCache(t, 1<<20)
	id := uuid.New()
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss")
	}
	wav := []byte("RIFF....WAVEdata")
	if err := c.Put("k1", id, 0, wav); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("k1")
	if !ok || !bytes.Equal(got, wav) {
		t.Errorf("Get = %q, %v", got, ok)
	}
	st, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 1 || st.Bytes != int64(len(wav)) {
		t.Errorf("Stats = %+v", st)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(t, 30)
	id := uuid.New()
	blob := bytes.Repeat([]byte{1}, 10)

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(k, id, 0, blob); err != nil {
			t.Fatal(err)
		}
	}
	// Touch "a" so "b" becomes the oldest.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	if err := c.Put("d", id, 0, blob); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}

	if err := c.Put("huge", id, 0, bytes.Repeat([]byte{1}, 31)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("huge"); ok {
		t.Error("entries larger than the limit should not be cached")
	}
}

func TestInvalidateModel(t *testing.T) {
	c := newCache(t, 1<<20)
	a, b := uuid.New(), uuid.New()
	c.Put("a1", a, 0, []byte("x"))
	c.Put("a2", a, 1, []byte("y"))
	c.Put("b1", b, 2, []byte("z"))
	n, err := c.InvalidateModel(a)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d entries, want 2", n)
	}
	if _, ok := c.Get("b1"); !ok {
		t.Error("other model's entries should survive")
	}
}

func TestVersionChangeClears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := openDB(t, path)
	c, err := New(db, 1<<20, "1")
	if err != nil {
		t.Fatal(err)
	}
	c.Put("k", uuid.New(), 0, []byte("x"))

	same, err := New(db, 1<<20, "1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := same.Get("k"); !ok {
		t.Error("same version should keep entries")
	}

	upgraded, err := New(db, 1<<20, "2")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := upgraded.Get("k"); ok {
		t.Error("version change should clear entries")
	}
}

func TestDisabled(t *testing.T) {
	c, err := New(nil, 0, "1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Enabled() {
		t.Error("zero size should disable the cache")
	}
	if err := c.Put("k", uuid.New(), 0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache should always miss")
	}
	var nilCache *Cache
	if nilCache.Enabled() {
		t.Error("nil cache should be disabled")
	}
}
