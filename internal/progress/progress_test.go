package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStart_CreatesRunningSession(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id := tr.Start("search")

	snap, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, "search", snap.ToolName)
}

func TestUpdate_AppendsHistory(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id := tr.Start("search")

	require.NoError(t, tr.Update(id, "fetch", "fetching page 1", 10))
	require.NoError(t, tr.Update(id, "parse", "parsing results", 50))

	snap, err := tr.Get(id)
	require.NoError(t, err)
	require.Len(t, snap.History, 2)
	assert.Equal(t, "fetch", snap.History[0].Step)
	assert.Equal(t, "parse", snap.History[1].Step)
}

func TestFinish_FreezesSession(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id := tr.Start("search")
	require.NoError(t, tr.Finish(id, StateCompleted, "done"))

	err := tr.Update(id, "late", "should be ignored", 99)
	require.NoError(t, err)

	snap, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	for _, e := range snap.History {
		assert.NotEqual(t, "late", e.Step)
	}
}

func TestFinish_RejectsNonTerminalState(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id := tr.Start("search")
	assert.Error(t, tr.Finish(id, StateRunning, "oops"))
}

func TestGet_UnknownSession(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	_, err := tr.Get("nonexistent")
	assert.Error(t, err)
}

func TestStats_CountsByState(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	a := tr.Start("a")
	b := tr.Start("b")
	require.NoError(t, tr.Finish(a, StateCompleted, "ok"))

	stats := tr.Stats()
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	_ = b
}

func TestPrune_RemovesOldFinishedSessions(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id := tr.Start("search")
	require.NoError(t, tr.Finish(id, StateCompleted, "done"))

	removed := tr.Prune(-time.Second) // cutoff in the future relative to finish time
	assert.Equal(t, 1, removed)

	_, err := tr.Get(id)
	assert.Error(t, err)
}

func TestStart_IDsAreMonotonicallySortable(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	id1 := tr.Start("a")
	id2 := tr.Start("b")
	assert.Less(t, id1, id2)
}
