package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

func newJournal(t *testing.T) *SessionJournal {
	t.Helper()
	j, err := NewSessionJournal(filepath.Join(t.TempDir(), "data", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSessionLifecycle(t *testing.T) {
	j := newJournal(t)
	opened := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, j.RecordOpen(events.ConnectionPayload{
		ConnID:     "c1",
		RemoteAddr: "10.0.0.1:50000",
		Phase:      protocol.PhaseHandshaking,
		OpenedAt:   opened,
	}))

	sessions, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Open())
	assert.Equal(t, "10.0.0.1:50000", sessions[0].RemoteAddr)
	assert.True(t, opened.Equal(sessions[0].OpenedAt))

	require.NoError(t, j.RecordLogin(events.LoginPayload{
		ConnID:          "c1",
		Username:        "Steve",
		UUID:            protocol.OfflineUUID("Steve").String(),
		ProtocolVersion: 754,
	}))
	require.NoError(t, j.RecordClose(events.ConnectionPayload{
		ConnID:   "c1",
		Phase:    protocol.PhasePlay,
		OpenedAt: opened,
		Duration: 45 * time.Second,
		Reason:   "eof",
	}))

	sessions, err = j.Recent(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.False(t, s.Open())
	assert.Equal(t, "Steve", s.Username)
	assert.Equal(t, 754, s.ProtocolVersion)
	assert.Equal(t, "play", s.FinalPhase)
	assert.Equal(t, int64(45000), s.DurationMS)
	assert.Equal(t, "eof", s.CloseReason)
	assert.True(t, opened.Add(45*time.Second).Equal(*s.ClosedAt))

	stats, err := j.Stats()
	require.NoError(t, err)
	assert.Equal(t, SessionStats{Total: 1, Open: 0, UniquePlayers: 1}, stats)
}

func TestSessionCloseBeforeOpen(t *testing.T) {
	j := newJournal(t)
	opened := time.Now().Truncate(time.Millisecond)

	require.NoError(t, j.RecordClose(events.ConnectionPayload{
		ConnID:     "c1",
		RemoteAddr: "10.0.0.1:1",
		Phase:      protocol.PhaseStatus,
		OpenedAt:   opened,
		Duration:   time.Second,
		Reason:     "finished",
	}))
	require.NoError(t, j.RecordOpen(events.ConnectionPayload{
		ConnID:     "c1",
		RemoteAddr: "10.0.0.1:1",
		Phase:      protocol.PhaseHandshaking,
		OpenedAt:   opened,
	}))

	sessions, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Open())
	assert.Equal(t, "status", sessions[0].FinalPhase)
}

func TestSessionRecentOrderAndLimit(t *testing.T) {
	j := newJournal(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.RecordOpen(events.ConnectionPayload{
			ConnID:   id,
			OpenedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	sessions, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ConnID)
	assert.Equal(t, "b", sessions[1].ConnID)
}

func TestSessionPrune(t *testing.T) {
	j := newJournal(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, j.RecordClose(events.ConnectionPayload{ConnID: "old-closed", OpenedAt: old, Duration: time.Second}))
	require.NoError(t, j.RecordOpen(events.ConnectionPayload{ConnID: "old-open", OpenedAt: old}))
	require.NoError(t, j.RecordClose(events.ConnectionPayload{ConnID: "new-closed", OpenedAt: time.Now(), Duration: time.Second}))

	n, err := j.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sessions, err := j.Recent(10)
	require.NoError(t, err)
	ids := []string{}
	for _, s := range sessions {
		ids = append(ids, s.ConnID)
	}
	assert.ElementsMatch(t, []string{"old-open", "new-closed"}, ids)
}

func TestSessionCloseDangling(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.RecordOpen(events.ConnectionPayload{ConnID: "c1", OpenedAt: time.Now()}))

	n, err := j.CloseDangling("server restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := j.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Open)
}

func TestSessionJournalSubscribes(t *testing.T) {
	j := newJournal(t)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	ctx := context.Background()
	opened := time.Now()
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventConnectionOpened,
		Payload: events.ConnectionPayload{ConnID: "c1", RemoteAddr: "127.0.0.1:1", OpenedAt: opened},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventPlayerLogin,
		Payload: events.LoginPayload{ConnID: "c1", Username: "Alex", UUID: "u-1"},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventConnectionClosed,
		Payload: events.ConnectionPayload{
			ConnID: "c1", Phase: protocol.PhasePlay, OpenedAt: opened, Duration: time.Second, Reason: "kicked",
		},
	}))

	sessions, err := j.Recent(1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Alex", sessions[0].Username)
	assert.Equal(t, "kicked", sessions[0].CloseReason)
	assert.False(t, sessions[0].Open())
}
