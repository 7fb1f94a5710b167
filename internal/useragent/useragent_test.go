package useragent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	p := New([]string{"", ""})
	require.Equal(t, len(Defaults), p.Len())
	require.Contains(t, Defaults, p.Random())
}

func TestRandomDrawsFromConfiguredAgents(t *testing.T) {
	t.Parallel()

	p := New([]string{"agent-a", "agent-b"})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ua := p.Random()
		require.Contains(t, []string{"agent-a", "agent-b"}, ua)
		seen[ua] = true
	}
	require.Len(t, seen, 2, "expected both agents to be drawn over 200 picks")
}

func TestRandomUsesPicker(t *testing.T) {
	t.Parallel()

	p := New([]string{"first", "second", "third"})
	p.pick = func(int) int { return 2 }
	require.Equal(t, "third", p.Random())
}
