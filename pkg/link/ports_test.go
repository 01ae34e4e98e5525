package link

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortSet(t *testing.T) {
	named := func(name string) *Port {
		conf := DefaultConfig()
		conf.Name = name
		return NewPort(conf, &testChannel{}, nil)
	}
	s := NewPortSet()
	b, a := named("b"), named("a")
	s.Add(b)
	s.Add(a)
	require.Equal(t, []*Port{a, b}, s.Ports())

	p, ok := s.Get("b")
	require.True(t, ok)
	require.Same(t, b, p)

	replaced := named("b")
	s.Add(replaced)
	s.Remove(b)
	p, ok = s.Get("b")
	require.True(t, ok)
	require.Same(t, replaced, p)

	s.Remove(replaced)
	_, ok = s.Get("b")
	require.False(t, ok)
	require.Len(t, s.Ports(), 1)
}
