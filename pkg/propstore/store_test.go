package propstore

import (
    "context"
    "path/filepath"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"
    "github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
    t.Helper()
    s, err := Open(filepath.Join(t.TempDir(), "props.db"))
    require.NoError(t, err)
    t.Cleanup(func() { _ = s.Close() })
    return s
}

func TestMigratesToLatest(t *testing.T) {
    s := openTemp(t)
    v, dirty, err := s.Version()
    require.NoError(t, err)
    require.False(t, dirty)
    require.EqualValues(t, 2, v)
}

func TestSaveLoadUpsert(t *testing.T) {
    s := openTemp(t)
    ctx := context.Background()
    at := time.Unix(1700000000, 42)
    recs := []Record{
        {Component: "producer", Name: "rate", Type: "/double", Format: "binary", Data: []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, UpdatedAt: at},
        {Component: "producer", Name: "label", Type: "/std/string", Format: "binary", Doc: "display name", Data: []byte{0, 0, 0, 0}, UpdatedAt: at},
        {Component: "consumer", Name: "enabled", Type: "/bool", Format: "binary", Data: []byte{1}, UpdatedAt: at},
    }
    require.NoError(t, s.Save(ctx, recs...))

    got, err := s.Load(ctx, "producer")
    require.NoError(t, err)
    want := []Record{recs[1], recs[0]}
    if diff := cmp.Diff(want, got); diff != "" { t.Fatalf("Load mismatch (-want +got):\n%s", diff) }

    recs[0].Data = []byte{0, 0, 0, 0, 0, 0, 0, 0x40}
    require.NoError(t, s.Save(ctx, recs[0]))
    got, err = s.Load(ctx, "producer")
    require.NoError(t, err)
    require.Len(t, got, 2)
    require.Equal(t, recs[0].Data, got[1].Data)

    comps, err := s.Components(ctx)
    require.NoError(t, err)
    require.Equal(t, []string{"consumer", "producer"}, comps)

    n, err := s.Delete(ctx, "producer", "rate")
    require.NoError(t, err)
    require.EqualValues(t, 1, n)
    n, err = s.Delete(ctx, "producer", "")
    require.NoError(t, err)
    require.EqualValues(t, 1, n)
    got, err = s.Load(ctx, "producer")
    require.NoError(t, err)
    require.Empty(t, got)
}

func TestSaveRejectsAnonymousRecords(t *testing.T) {
    s := openTemp(t)
    require.Error(t, s.Save(context.Background(), Record{Name: "x"}))
}

func TestReopenKeepsData(t *testing.T) {
    path := filepath.Join(t.TempDir(), "props.db")
    s, err := Open(path)
    require.NoError(t, err)
    require.NoError(t, s.Save(context.Background(), Record{Component: "c", Name: "n", Type: "/int", Format: "binary", Data: []byte{1, 0, 0, 0}}))
    require.NoError(t, s.Close())

    s, err = Open(path)
    require.NoError(t, err)
    defer s.Close()
    got, err := s.Load(context.Background(), "c")
    require.NoError(t, err)
    require.Len(t, got, 1)
    require.Equal(t, []byte{1, 0, 0, 0}, got[0].Data)
}
