package inventory

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suscart-data/freshrelay/internal/relay"
)

type recordedEvent struct {
	kind      relay.EventKind
	subjectID int64
	payload   json.RawMessage
}

type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) PublishEvent(kind relay.EventKind, subjectID int64, payload json.RawMessage) uint64 {
	p.events = append(p.events, recordedEvent{kind, subjectID, payload})
	return uint64(len(p.events))
}

func openTestStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	return s, pub
}

func TestCreateAndGetItem(t *testing.T) {
	s, pub := openTestStore(t)

	item, err := s.CreateItem("bananas", 12, 0.9)
	require.NoError(t, err)
	assert.Equal(t, "bananas", item.Name)
	assert.EqualValues(t, 12, item.Quantity)
	assert.NotZero(t, item.ID)

	got, err := s.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.Quantity, got.Quantity)
	assert.Equal(t, item.FreshnessScore, got.FreshnessScore)

	require.Len(t, pub.events, 1)
	assert.Equal(t, relay.EventItemAdded, pub.events[0].kind)
	assert.Equal(t, item.ID, pub.events[0].subjectID)
}

func TestGetItemNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.GetItem(9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAdjustQuantity(t *testing.T) {
	s, pub := openTestStore(t)

	item, err := s.CreateItem("apples", 5, 1.0)
	require.NoError(t, err)

	got, err := s.AdjustQuantity(item.ID, -2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Quantity)

	// Quantity clamps at zero rather than going negative.
	got, err = s.AdjustQuantity(item.ID, -10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Quantity)

	require.Len(t, pub.events, 3)
	assert.Equal(t, relay.EventQuantityChanged, pub.events[1].kind)
	assert.Equal(t, relay.EventQuantityChanged, pub.events[2].kind)

	var state Item
	require.NoError(t, json.Unmarshal(pub.events[2].payload, &state))
	assert.EqualValues(t, 0, state.Quantity)
}

func TestUpdateFreshness(t *testing.T) {
	s, pub := openTestStore(t)

	item, err := s.CreateItem("pears", 8, 1.0)
	require.NoError(t, err)

	got, err := s.UpdateFreshness(item.ID, 0.42, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.42, got.FreshnessScore)
	assert.EqualValues(t, 3, got.BlemishCount)

	require.Len(t, pub.events, 2)
	assert.Equal(t, relay.EventFreshnessUpdated, pub.events[1].kind)
}

func TestUpdateAndDeleteItem(t *testing.T) {
	s, pub := openTestStore(t)

	item, err := s.CreateItem("grapes", 4, 0.8)
	require.NoError(t, err)

	got, err := s.UpdateItem(item.ID, "green grapes")
	require.NoError(t, err)
	assert.Equal(t, "green grapes", got.Name)

	require.NoError(t, s.DeleteItem(item.ID))
	_, err = s.GetItem(item.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.Len(t, pub.events, 3)
	assert.Equal(t, relay.EventItemUpdated, pub.events[1].kind)
	assert.Equal(t, relay.EventItemDeleted, pub.events[2].kind)
}

func TestMutateMissingItem(t *testing.T) {
	s, pub := openTestStore(t)

	_, err := s.UpdateItem(1, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.AdjustQuantity(1, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.UpdateFreshness(1, 0.5, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
	err = s.DeleteItem(1)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Failed mutations must not broadcast.
	assert.Empty(t, pub.events)
}

func TestListAndSnapshotOrdering(t *testing.T) {
	s, _ := openTestStore(t)

	names := []string{"apples", "bananas", "cherries"}
	for _, name := range names {
		_, err := s.CreateItem(name, 1, 1.0)
		require.NoError(t, err)
	}

	items, err := s.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1].ID, items[i].ID)
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap, 3)
	for i, want := range names {
		var item Item
		require.NoError(t, json.Unmarshal(snap[i].Payload, &item))
		assert.Equal(t, want, item.Name)
		assert.Equal(t, snap[i].SubjectID, item.ID)
	}
}

func TestNoPublisherIsSafe(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	defer s.Close()

	// Mutations before wiring a publisher succeed silently.
	item, err := s.CreateItem("plums", 2, 1.0)
	require.NoError(t, err)
	_, err = s.AdjustQuantity(item.ID, 1)
	require.NoError(t, err)
}

func TestBackup(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.CreateItem("melons", 1, 1.0)
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := s.Backup(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	// The backup is a full database copy.
	restored, err := Open(path)
	require.NoError(t, err)
	defer restored.Close()

	items, err := restored.ListItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "melons", items[0].Name)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.CreateItem("kiwi", 1, 1.0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.ListItems()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
