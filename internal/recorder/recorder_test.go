package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synheart/shakewatch/internal/models"
)

func writeTrace(t *testing.T, samples []models.Sample) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	rec, err := NewRecorder(path)
	require.NoError(t, err)
	for _, s := range samples {
		require.NoError(t, rec.Record(s))
	}
	require.NoError(t, rec.Close())
	return path
}

func collect(ctx context.Context, t *testing.T, rep *Replayer, size int) []models.Sample {
	t.Helper()
	out := make(chan models.Sample, size)
	err := rep.Replay(ctx, out)
	close(out)

	var got []models.Sample
	for s := range out {
		got = append(got, s)
	}
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	return got
}

var trace = []models.Sample{
	{Source: "p", T: 100, X: 0, Y: 0, Z: 9.8},
	{Source: "p", T: 120, X: 20, Y: 0, Z: 9.8},
	{Source: "p", T: 140, X: -20, Y: 0, Z: 9.8},
}

func TestRecorder_WritesNDJSON(t *testing.T) {
	path := writeTrace(t, trace)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"source":"p","t":120,"x":20,"y":0,"z":9.8}`, lines[1])
}

func TestRecorder_CloseTwice(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "x.ndjson"))
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	assert.NoError(t, rec.Close())
	assert.Error(t, rec.Record(trace[0]))
	assert.NoError(t, rec.Flush())
}

func TestRecorder_BadPath(t *testing.T) {
	_, err := NewRecorder(filepath.Join(t.TempDir(), "missing", "x.ndjson"))
	assert.Error(t, err)
}

func TestRecorder_RecordFromChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan.ndjson")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	ch := make(chan models.Sample, len(trace))
	for _, s := range trace {
		ch <- s
	}
	close(ch)

	entries := 0
	require.NoError(t, rec.RecordFromChannel(context.Background(), ch, func() { entries++ }))
	assert.Equal(t, 3, entries)

	n, err := NewReplayer(path, 0, false).CountSamples()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReplayer_Metadata(t *testing.T) {
	rep := NewReplayer(writeTrace(t, trace), 1, false)

	n, err := rep.CountSamples()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	first, err := rep.FirstSample()
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.T)

	span, err := rep.Span()
	require.NoError(t, err)
	assert.Equal(t, 40*time.Millisecond, span)
}

func TestReplayer_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	rep := NewReplayer(path, 0, false)
	_, err := rep.FirstSample()
	assert.Error(t, err)

	err = rep.Replay(context.Background(), make(chan models.Sample, 1))
	assert.Error(t, err)
}

func TestReplayer_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"t\":1}\nnot json\n"), 0644))

	err := NewReplayer(path, 0, false).Replay(context.Background(), make(chan models.Sample, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReplayer_Unpaced(t *testing.T) {
	got := collect(context.Background(), t, NewReplayer(writeTrace(t, trace), 0, false), 10)
	assert.Equal(t, trace, got)
}

func TestReplayer_Speed(t *testing.T) {
	rep := NewReplayer(writeTrace(t, trace), 2.0, false)

	start := time.Now()
	got := collect(context.Background(), t, rep, 10)
	elapsed := time.Since(start)

	assert.Len(t, got, 3)
	// 40ms of recording at 2x is about 20ms
	assert.GreaterOrEqual(t, elapsed, 18*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestReplayer_LoopKeepsTimeMonotonic(t *testing.T) {
	rep := NewReplayer(writeTrace(t, trace), 0, true)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan models.Sample)
	done := make(chan error, 1)
	go func() { done <- rep.Replay(ctx, out) }()

	var got []models.Sample
	for len(got) < 7 {
		got = append(got, <-out)
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{100, 120, 140, 141, 161, 181, 182}, []int64{
		got[0].T, got[1].T, got[2].T, got[3].T, got[4].T, got[5].T, got[6].T,
	})
	assert.Equal(t, trace[1].X, got[4].X)
}
