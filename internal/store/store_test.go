package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))
}

func TestInsertAndListMessages(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	first := &Message{
		LinkID:     "NODE2_1",
		Kind:       "DATA",
		Src:        "NODE2",
		Dst:        "NODE1",
		Content:    map[string]any{"temperature": 21.5, "uptime": float64(120)},
		RSSI:       -87,
		SNR:        6.5,
		ReceivedAt: base,
	}
	id, err := db.InsertMessage(first)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = db.InsertMessage(&Message{
		LinkID:     "NODE2_2",
		Kind:       "PING",
		Src:        "NODE2",
		Dst:        "NODE1",
		ReceivedAt: base.Add(time.Second),
	})
	require.NoError(t, err)

	msgs, err := db.ListMessages(10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Newest first.
	assert.Equal(t, "NODE2_2", msgs[0].LinkID)
	assert.Nil(t, msgs[0].Content, "control kinds carry no content")

	assert.Equal(t, "NODE2_1", msgs[1].LinkID)
	assert.Equal(t, map[string]any{"temperature": 21.5, "uptime": float64(120)}, msgs[1].Content)
	assert.Equal(t, base, msgs[1].ReceivedAt)
}

func TestListMessagesHonoursLimit(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := db.InsertMessage(&Message{
			LinkID:     "NODE2_" + string(rune('1'+i)),
			Kind:       "DATA",
			Src:        "NODE2",
			Dst:        "NODE1",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := db.ListMessages(3)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestUpsertPeerRefreshes(t *testing.T) {
	db := openTestDB(t)

	first := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpsertPeer(&Peer{
		NodeID: "NODE2", LastSeen: first, BatteryVolts: 3.9,
	}))
	require.NoError(t, db.UpsertPeer(&Peer{
		NodeID: "NODE2", LastSeen: first.Add(time.Minute), BatteryVolts: 3.8,
	}))

	peers, err := db.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "NODE2", peers[0].NodeID)
	assert.Equal(t, first.Add(time.Minute), peers[0].LastSeen)
	assert.Equal(t, 3.8, peers[0].BatteryVolts)
}
