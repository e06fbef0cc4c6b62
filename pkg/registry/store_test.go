package registry

import (
    "fmt"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/rock-core/base-orogen-std/pkg/memkv"
)

func newStore(t *testing.T) *Store {
    kv := memkv.New(memkv.Options{})
    t.Cleanup(kv.Close)
    return NewStore(kv)
}

func TestRegisterGetDeregister(t *testing.T) {
    s := newStore(t)
    require.Error(t, s.Register(Descriptor{Name: "  "}, 0))
    require.NoError(t, s.Register(Descriptor{
        Name:    "producer",
        Process: "p1",
        Ports:   []PortInfo{{Name: "out", Direction: "out", Type: "/int32_t"}, {Name: "cmd", Direction: "in", Type: "/bool"}},
    }, 0))
    d, ok := s.Get("producer")
    require.True(t, ok)
    require.Equal(t, "cmd", d.Ports[0].Name)
    require.NotZero(t, d.UpdatedUnixMs)

    require.NoError(t, s.Update("producer", func(d *Descriptor) {
        d.Properties = append(d.Properties, PropertyInfo{Name: "rate", Type: "/double"})
        d.Labels = map[string]string{"role": "source"}
    }))
    d, _ = s.Get("producer")
    require.Len(t, d.Properties, 1)
    require.Equal(t, "source", d.Labels["role"])
    require.ErrorIs(t, s.Update("missing", func(*Descriptor) {}), ErrNotFound)

    require.True(t, s.Deregister("producer"))
    require.False(t, s.Deregister("producer"))
    _, ok = s.Get("producer")
    require.False(t, ok)
}

func TestListFiltersAndPages(t *testing.T) {
    s := newStore(t)
    for i := 0; i < 5; i++ {
        role := "sink"
        if i%2 == 0 { role = "source" }
        require.NoError(t, s.Register(Descriptor{Name: fmt.Sprintf("c%d", i), Process: "p", Labels: map[string]string{"role": role}}, 0))
    }
    require.NoError(t, s.Register(Descriptor{Name: "other", Process: "q"}, 0))

    all, next := s.List(ListOptions{Process: "p"})
    require.Len(t, all, 5)
    require.Empty(t, next)

    page, next := s.List(ListOptions{Labels: map[string]string{"role": "source"}, PageSize: 2})
    require.Equal(t, []string{"c0", "c2"}, []string{page[0].Name, page[1].Name})
    require.NotEmpty(t, next)
    page, next = s.List(ListOptions{Labels: map[string]string{"role": "source"}, PageSize: 2, PageToken: next})
    require.Len(t, page, 1)
    require.Equal(t, "c4", page[0].Name)
    require.Empty(t, next)
}

func TestRegisterWithTTL(t *testing.T) {
    s := newStore(t)
    require.NoError(t, s.Register(Descriptor{Name: "ephemeral"}, 30*time.Millisecond))
    require.Eventually(t, func() bool { _, ok := s.Get("ephemeral"); return !ok }, 2*time.Second, 10*time.Millisecond)
}
