package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
)

func TestSnapshotRepo_SaveLoad(t *testing.T) {
	r, err := NewSnapshotRepo(filepath.Join(t.TempDir(), "nested", "snapshots.db"))
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	contacts := []*domain.Contact{
		{ID: "c2", Phone: "301", FunnelStage: "ganado", Tags: []string{"vip"},
			LastMessage: &domain.LastMessage{Text: "hi", Timestamp: "09:41", Sender: domain.SenderUser}},
		{ID: "c1", Phone: "300"},
		nil,
	}
	require.NoError(t, r.Save(ctx, "L1", contacts))

	loaded, err := r.Load(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "c1", loaded[0].ID)
	assert.Equal(t, "c2", loaded[1].ID)
	assert.Equal(t, domain.StatusWon, loaded[1].Status)
	assert.Equal(t, []string{"vip"}, loaded[1].Tags)
	require.NotNil(t, loaded[1].LastMessage)
	assert.Equal(t, "hi", loaded[1].LastMessage.Text)
}

func TestSnapshotRepo_SaveReplaces(t *testing.T) {
	r, err := NewSnapshotRepo(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, "L1", []*domain.Contact{{ID: "c1"}, {ID: "c2"}}))
	require.NoError(t, r.Save(ctx, "L1", []*domain.Contact{{ID: "c3"}}))
	require.NoError(t, r.Save(ctx, "L2", []*domain.Contact{{ID: "x"}}))

	loaded, err := r.Load(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "c3", loaded[0].ID)

	infos, err := r.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	lines := map[string]int{}
	for _, info := range infos {
		lines[info.LineID] = info.Contacts
		assert.NotEmpty(t, info.SavedAt)
	}
	assert.Equal(t, map[string]int{"L1": 1, "L2": 1}, lines)
}

func TestSnapshotRepo_LoadMissingLine(t *testing.T) {
	r, err := NewSnapshotRepo(":memory:")
	require.NoError(t, err)
	defer r.Close()

	loaded, err := r.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
