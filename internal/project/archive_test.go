package project

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_AppendAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.AppendTurn(Turn{Role: RoleOperator, Text: "hello", Timestamp: time.Now().UTC()}))
	require.NoError(t, a.AppendTurn(Turn{Role: RoleAssistant, Text: "hi", Timestamp: time.Now().UTC()}))

	n, err := a.TurnCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestArchive_RecentTurnsChronological(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.AppendTurn(Turn{Role: RoleOperator, Text: "t" + strconv.Itoa(i)}))
	}

	turns, err := a.RecentTurns(3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "t2", turns[0].Text)
	assert.Equal(t, "t4", turns[2].Text)
}

func TestArchive_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	require.NoError(t, a.AppendTurn(Turn{Role: RoleSystem, Text: "marker"}))
	require.NoError(t, a.Close())

	b, err := OpenArchive(path)
	require.NoError(t, err)
	defer b.Close()
	n, err := b.TurnCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ArchiveRetainsCompactedTurns(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{HistoryWindow: 2, HistoryCap: 4, Archive: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.AddTurn(RoleOperator, "turn "+strconv.Itoa(i)))
	}

	// Live history is bounded, the archive holds every turn plus markers.
	assert.LessOrEqual(t, s.HistoryLen(), 5)
	require.NotNil(t, s.archive)
	n, err := s.archive.TurnCount()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 6, "archive must retain all appended turns")
}
