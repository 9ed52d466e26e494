package balancer

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(names ...string) []providers.Config {
	out := make([]providers.Config, 0, len(names))
	for _, n := range names {
		out = append(out, providers.Config{Name: n, Weight: 1})
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, s)

	s, err = ParseStrategy("least-load")
	require.NoError(t, err)
	assert.Equal(t, LeastLoad, s)

	_, err = ParseStrategy("fastest")
	assert.Error(t, err)
}

func TestRoundRobin(t *testing.T) {
	sel, err := New(RoundRobin, nil, nil)
	require.NoError(t, err)

	cs := candidates("a", "b", "c")
	var got []string
	for i := 0; i < 6; i++ {
		c, err := sel.Select(cs, "")
		require.NoError(t, err)
		got = append(got, c.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestRoundRobin_Concurrent(t *testing.T) {
	sel, err := New(RoundRobin, nil, nil)
	require.NoError(t, err)
	cs := candidates("a", "b")

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := sel.Select(cs, "")
			mu.Lock()
			counts[c.Name]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counts["a"])
	assert.Equal(t, 50, counts["b"])
}

func TestWeighted_Distribution(t *testing.T) {
	sel, err := New(Weighted, nil, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	cs := []providers.Config{{Name: "A", Weight: 3}, {Name: "B", Weight: 1}}
	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		c, err := sel.Select(cs, "")
		require.NoError(t, err)
		counts[c.Name]++
	}

	ratio := float64(counts["A"]) / float64(counts["B"])
	assert.InDelta(t, 3.0, ratio, 0.25)
}

func TestWeighted_ZeroTotal(t *testing.T) {
	sel, err := New(Weighted, nil, nil)
	require.NoError(t, err)
	c, err := sel.Select([]providers.Config{{Name: "x"}, {Name: "y"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "x", c.Name)
}

func TestLeastLoad_Fairness(t *testing.T) {
	usage := NewUsage()
	sel, err := New(LeastLoad, usage, nil)
	require.NoError(t, err)

	cs := candidates("a", "b", "c")
	for i := 0; i < 31; i++ {
		c, err := sel.Select(cs, "")
		require.NoError(t, err)
		usage.Inc(c.Name)

		snap := usage.Snapshot()
		lowest := int64(1 << 62)
		for _, c := range cs {
			if snap[c.Name] < lowest {
				lowest = snap[c.Name]
			}
		}
		for _, c := range cs {
			assert.LessOrEqual(t, snap[c.Name]-lowest, int64(1))
		}
	}
}

func TestLeastLoad_TiesGoToRegistryOrder(t *testing.T) {
	usage := NewUsage()
	sel, err := New(LeastLoad, usage, nil)
	require.NoError(t, err)

	usage.Inc("a")
	c, err := sel.Select(candidates("a", "b", "c"), "")
	require.NoError(t, err)
	assert.Equal(t, "b", c.Name)
}

func TestLeastLoad_RequiresUsage(t *testing.T) {
	_, err := New(LeastLoad, nil, nil)
	assert.Error(t, err)
}

func TestSelect_PreferredWins(t *testing.T) {
	for _, s := range []Strategy{RoundRobin, Weighted, LeastLoad} {
		t.Run(string(s), func(t *testing.T) {
			sel, err := New(s, NewUsage(), nil)
			require.NoError(t, err)

			c, err := sel.Select(candidates("a", "b", "c"), "c")
			require.NoError(t, err)
			assert.Equal(t, "c", c.Name)

			c, err = sel.Select(candidates("a", "b"), "missing")
			require.NoError(t, err)
			assert.Contains(t, []string{"a", "b"}, c.Name)
		})
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	sel, err := New(RoundRobin, nil, nil)
	require.NoError(t, err)
	_, err = sel.Select(nil, "")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestUsage(t *testing.T) {
	u := NewUsage()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Inc("openai")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), u.Count("openai"))
	assert.Equal(t, int64(0), u.Count("groq"))
	assert.Equal(t, map[string]int64{"openai": 50}, u.Snapshot())
}
