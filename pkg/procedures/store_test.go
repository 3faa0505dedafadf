package procedures

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(kv KV) *Store {
	s := NewStore(kv)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("sop_%d", n)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestNormalizeAccountID(t *testing.T) {
	cases := map[string]string{
		"":                "default",
		"   ":             "default",
		"Alice":           "alice",
		"  Coffee  Shop ": "coffee-shop",
		"a\tb\nc":         "a-b-c",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAccountID(in), "input %q", in)
	}
	assert.Equal(t, "sops_coffee-shop", ListKey("Coffee Shop"))
}

func storeSuite(t *testing.T, kv KV) {
	ctx := context.Background()
	s := newTestStore(kv)
	t.Cleanup(func() { _ = s.Close() })

	list, err := s.List(ctx, "Team A")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.Save(ctx, "Team A", Procedure{Title: "First", Steps: []Step{{Number: 1, Action: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "sop_1", first.ID)
	assert.Equal(t, "team-a", first.AccountID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Save(ctx, "team a", Procedure{Title: "Second", Steps: []Step{{Number: 1, Action: "b"}}})
	require.NoError(t, err)

	list, err = s.List(ctx, "TEAM A")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Second", list[0].Title)
	assert.Equal(t, "First", list[1].Title)

	cur, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID)

	got, err := s.Get(ctx, "team-a", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)

	_, err = s.Get(ctx, "team-a", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetCurrent(ctx, first))
	cur, _, err = s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cur.ID)

	require.NoError(t, s.ClearCurrent(ctx))
	_, ok, err = s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := s.List(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_Memory(t *testing.T) {
	storeSuite(t, NewMemoryKV())
}

func TestStore_SQLite(t *testing.T) {
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "coach.db"))
	require.NoError(t, err)
	storeSuite(t, kv)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "coach.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = newTestStore(kv).Save(ctx, "", Barista())
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	kv, err = OpenSQLite(path)
	require.NoError(t, err)
	defer kv.Close()

	list, err := NewStore(kv).List(ctx, "default")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Espresso Making", list[0].Title)
	assert.Len(t, list[0].Steps, 10)
}

func TestStore_CapsList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(NewMemoryKV())
	for i := 0; i < MaxPerAccount+5; i++ {
		_, err := s.Save(ctx, "x", Procedure{Title: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "x")
	require.NoError(t, err)
	require.Len(t, list, MaxPerAccount)
	assert.Equal(t, fmt.Sprintf("p%d", MaxPerAccount+4), list[0].Title)
	assert.Equal(t, "p5", list[MaxPerAccount-1].Title)
}

func TestStore_CorruptListReadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(ctx, ListKey("x"), []byte("{not json")))
	require.NoError(t, kv.Put(ctx, CurrentKey, []byte("[]")))

	s := NewStore(kv)
	list, err := s.List(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBarista(t *testing.T) {
	p := Barista()
	assert.Equal(t, "Espresso Making", p.Title)
	assert.Equal(t, "barista", p.Role)
	require.Len(t, p.Steps, 10)
	for i, st := range p.Steps {
		assert.Equal(t, i+1, st.Number)
		assert.NotEmpty(t, st.Action)
		assert.NotEmpty(t, st.LookFor)
		assert.NotEmpty(t, st.CommonMistakes)
	}
}
