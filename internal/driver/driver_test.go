package driver

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synheart/shakewatch/internal/generator"
	"github.com/synheart/shakewatch/internal/logging"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/scenario"
	"github.com/synheart/shakewatch/internal/shake"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(shake.DefaultConfig(), models.Session{RunID: "run-1", Scenario: "test"}, logging.Discard())
	require.NoError(t, err)
	return d
}

// pattern is the smallest default-config shake: opener plus three counted movements
func pattern(source string, start int64) []models.Sample {
	mags := []float64{20, 5, 20, 5}
	out := make([]models.Sample, len(mags))
	for i, m := range mags {
		out[i] = models.Sample{Source: source, T: start + int64(i*50), X: m}
	}
	return out
}

// cleanShake is a noise-free scenario: 1s rest, 1s of 5Hz shaking, then rest
func cleanShake() *scenario.Scenario {
	return &scenario.Scenario{
		Name:     "clean",
		Duration: "3s",
		Rate:     "100hz",
		Motion:   scenario.Motion{Gravity: []float64{0, 0, 9.81}},
		Phases: []scenario.Phase{
			{Name: "rest", Duration: "1s"},
			{Name: "shake", Duration: "1s", Motion: &scenario.Motion{
				Shake: &scenario.Oscillation{Axis: "x", Amplitude: 30, Frequency: 5},
			}},
			{Name: "rest", Duration: "unlimited"},
		},
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := shake.DefaultConfig()
	cfg.MaxPause = 0
	_, err := New(cfg, models.Session{}, nil)
	assert.ErrorIs(t, err, shake.ErrInvalidConfig)
}

func TestFeed_FiresAndWrapsEvent(t *testing.T) {
	d := newDriver(t)

	var fired []models.ShakeEvent
	for _, s := range pattern("phone-1", 1000) {
		if evt, ok := d.Feed(s); ok {
			fired = append(fired, evt)
		}
	}

	require.Len(t, fired, 1)
	evt := fired[0]
	assert.Equal(t, models.SchemaVersion, evt.SchemaVersion)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, "phone-1", evt.Source)
	assert.Equal(t, "run-1", evt.Session.RunID)
	assert.Equal(t, int64(1150), evt.Shake.AtMs)
	assert.Equal(t, int64(1000), evt.Shake.FirstChangeMs)
	assert.Equal(t, uint32(3), evt.Shake.Changes)
	assert.Equal(t, int64(1), evt.Meta.Sequence)

	stats := d.Stats()
	assert.Equal(t, int64(4), stats.Samples)
	assert.Equal(t, int64(1), stats.Shakes)
	assert.Equal(t, 1, stats.Sources)
}

func TestFeed_SourcesAreIndependent(t *testing.T) {
	d := newDriver(t)

	a := pattern("a", 0)
	b := pattern("b", 0)

	// interleave two streams; each must fire on its own fourth sample
	var order []string
	for i := range a {
		if evt, ok := d.Feed(a[i]); ok {
			order = append(order, evt.Source)
		}
		if evt, ok := d.Feed(b[i]); ok {
			order = append(order, evt.Source)
		}
	}
	assert.Equal(t, []string{"a", "b"}, order)

	// a half-finished window on one source does not leak into another
	d.Feed(models.Sample{Source: "a", T: 1000, X: 20})
	st, err := d.State("a")
	require.NoError(t, err)
	assert.True(t, st.Open)
	st, err = d.State("b")
	require.NoError(t, err)
	assert.True(t, st.Idle())
}

func TestFeed_NotifiesListeners(t *testing.T) {
	d := newDriver(t)

	var first, second []int64
	d.Subscribe(func(e models.ShakeEvent) { first = append(first, e.Meta.Sequence) })
	d.Subscribe(func(e models.ShakeEvent) { second = append(second, e.Meta.Sequence) })

	for _, s := range append(pattern("a", 0), pattern("a", 1000)...) {
		d.Feed(s)
	}

	assert.Equal(t, []int64{1, 2}, first)
	assert.Equal(t, []int64{1, 2}, second)
}

func TestFeed_RejectsContractViolations(t *testing.T) {
	d := newDriver(t)

	d.Feed(models.Sample{Source: "a", T: 100, X: 20})
	before, err := d.State("a")
	require.NoError(t, err)

	_, ok := d.Feed(models.Sample{Source: "a", T: 150, X: math.NaN()})
	assert.False(t, ok)
	_, ok = d.Feed(models.Sample{Source: "a", T: 50, X: 5})
	assert.False(t, ok)

	after, err := d.State("a")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Samples)
	assert.Equal(t, int64(2), stats.Rejected)
}

func TestFeed_GeneratedShake(t *testing.T) {
	d := newDriver(t)
	gen, err := generator.NewGenerator(scenario.NewEngine(cleanShake()), generator.Config{Seed: 1, SourceID: "sim"})
	require.NoError(t, err)

	var at []int64
	for _, s := range gen.Trace(1000) {
		if evt, ok := d.Feed(s); ok {
			at = append(at, evt.Shake.AtMs)
		}
	}

	assert.Equal(t, []int64{1130, 1290, 1430, 1590, 1730, 1890}, at)
}

func TestFeed_StillNeverFires(t *testing.T) {
	d := newDriver(t)
	reg := scenario.NewRegistry()
	require.NoError(t, reg.LoadBuiltin())

	for _, name := range []string{"still", "walk", "pocket"} {
		scen, err := reg.Get(name)
		require.NoError(t, err)
		gen, err := generator.NewGenerator(scenario.NewEngine(scen), generator.Config{Seed: 99, SourceID: name})
		require.NoError(t, err)

		for _, s := range gen.Trace(3000) {
			_, ok := d.Feed(s)
			require.False(t, ok, "%s fired at t=%d", name, s.T)
		}
	}
}

func TestFeed_BuiltinShakeFires(t *testing.T) {
	d := newDriver(t)
	reg := scenario.NewRegistry()
	require.NoError(t, reg.LoadBuiltin())
	scen, err := reg.Get("shake")
	require.NoError(t, err)

	gen, err := generator.NewGenerator(scenario.NewEngine(scen), generator.Config{Seed: 7})
	require.NoError(t, err)

	for _, s := range gen.Trace(500) {
		if evt, ok := d.Feed(s); ok {
			// only the two shake phases may produce events
			inFirst := evt.Shake.AtMs >= 3000 && evt.Shake.AtMs < 4100
			inSecond := evt.Shake.AtMs >= 7000 && evt.Shake.AtMs < 8100
			assert.True(t, inFirst || inSecond, "shake at %d", evt.Shake.AtMs)
		}
	}
	assert.Positive(t, d.Stats().Shakes)
}

func TestRun(t *testing.T) {
	d := newDriver(t)

	in := make(chan models.Sample, 16)
	out := make(chan models.ShakeEvent, 4)
	for _, s := range append(pattern("a", 0), pattern("b", 0)...) {
		in <- s
	}
	close(in)

	require.NoError(t, d.Run(context.Background(), in, out))
	close(out)

	var sources []string
	for e := range out {
		sources = append(sources, e.Source)
	}
	assert.Equal(t, []string{"a", "b"}, sources)
}

func TestRun_Cancelled(t *testing.T) {
	d := newDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx, make(chan models.Sample), nil), context.Canceled)
}

func TestFeed_Concurrent(t *testing.T) {
	d := newDriver(t)

	var mu sync.Mutex
	count := 0
	d.Subscribe(func(models.ShakeEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, src := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			for i := int64(0); i < 10; i++ {
				for _, s := range pattern(src, i*1000) {
					d.Feed(s)
				}
			}
		}(src)
	}
	wg.Wait()

	assert.Equal(t, 40, count)
	assert.Equal(t, int64(40), d.Stats().Shakes)
}

func TestForget(t *testing.T) {
	d := newDriver(t)
	d.Feed(models.Sample{Source: "a", T: 0, X: 20})
	assert.Equal(t, 1, d.Stats().Sources)

	d.Forget("a")
	assert.Equal(t, 0, d.Stats().Sources)
	_, err := d.State("a")
	assert.Error(t, err)

	// a forgotten source starts over, including its clock check
	_, ok := d.Feed(models.Sample{Source: "a", T: -5, X: 1})
	assert.False(t, ok)
	assert.Equal(t, int64(0), d.Stats().Rejected)
}

func TestFeed_DebugLogging(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "debug", "text", true)
	require.NoError(t, err)

	d, err := New(shake.DefaultConfig(), models.Session{}, log)
	require.NoError(t, err)
	for _, s := range pattern("a", 0) {
		d.Feed(s)
	}

	out := buf.String()
	assert.Contains(t, out, "window opened")
	assert.Contains(t, out, "movement counted")
	assert.Contains(t, out, "shake detected")

	// 20 -> 5 is a downward jump; the logged movement is its size
	assert.Contains(t, out, "movement=15 ")
	assert.NotContains(t, out, "movement=-")
}
