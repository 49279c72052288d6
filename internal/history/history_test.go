package history

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/internal/storage"
	"github.com/mmynk/splitchat/internal/storage/memory"
)

type failingStore struct {
	*memory.Store
	err error
}

func (f *failingStore) Put(context.Context, string, []byte) error { return f.err }

func snapshot(id, merchant string, prices ...string) models.Snapshot {
	s := models.Snapshot{
		ID:        id,
		Timestamp: 1700000000000,
		Metadata:  models.BillMetadata{MerchantName: merchant, Date: "Mar 4, 2025", Status: models.BillStatusPending},
		Users:     []models.User{{ID: "u1", Name: "Me", Color: ledger.PrimaryColor}},
		Conversation: []models.ConversationEntry{
			{ID: "m1", SenderID: models.SenderSystem, Text: ledger.WelcomeMessage, Timestamp: 1700000000000},
		},
	}
	for i, p := range prices {
		s.Items = append(s.Items, models.Item{
			ID:         string(rune('a' + i)),
			Name:       "item",
			Price:      decimal.RequireFromString(p),
			AssignedTo: []string{"u1"},
		})
	}
	return s
}

func TestLoad_Empty(t *testing.T) {
	h, err := Load(context.Background(), memory.New(), "alice", nil)
	require.NoError(t, err)
	assert.Zero(t, h.Len())
	assert.Empty(t, h.List())
}

func TestSaveMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)

	require.NoError(t, h.Save(ctx, snapshot("b1", "Cafe", "4.50")))
	require.NoError(t, h.Save(ctx, snapshot("b2", "Diner", "10", "2.25")))

	entries := h.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "b2", entries[0].ID)
	assert.Equal(t, "Diner", entries[0].Title)
	assert.Equal(t, 2, entries[0].ItemCount)
	assert.Equal(t, "12.25", entries[0].Subtotal.StringFixed(2))
	assert.Equal(t, "b1", entries[1].ID)

	// Saving an existing ID moves it to the front without duplicating it.
	require.NoError(t, h.Save(ctx, snapshot("b1", "Cafe", "5")))
	entries = h.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "b1", entries[0].ID)
}

func TestPersistsAcrossLoads(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	h, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)
	original := snapshot("b1", "Cafe", "4.50", "3")
	require.NoError(t, h.Save(ctx, original))

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/split_bill_history"}, keys)

	reloaded, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)
	got, err := reloaded.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, len(original.Items), len(got.Items))
	assert.True(t, original.Items[0].Price.Equal(got.Items[0].Price))
	assert.Equal(t, original.Conversation, got.Conversation)
	assert.Equal(t, original.Metadata, got.Metadata)

	other, err := Load(ctx, store, "bob", nil)
	require.NoError(t, err)
	assert.Zero(t, other.Len(), "owners do not share history")
}

func TestDeepCopyIsolation(t *testing.T) {
	ctx := context.Background()
	h, err := Load(ctx, memory.New(), "", nil)
	require.NoError(t, err)

	s := snapshot("b1", "Cafe", "4.50")
	require.NoError(t, h.Save(ctx, s))

	s.Items[0].Name = "changed after save"
	s.Items[0].AssignedTo[0] = "u9"

	got, err := h.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "item", got.Items[0].Name)
	assert.Equal(t, []string{"u1"}, got.Items[0].AssignedTo)

	got.Items[0].Name = "changed after load"
	again, _ := h.Get("b1")
	assert.Equal(t, "item", again.Items[0].Name)
}

func TestLedgerSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	h, err := Load(ctx, memory.New(), "", nil)
	require.NoError(t, err)

	l := ledger.New()
	item := l.AddItem(models.Item{Name: "Pizza", Price: decimal.NewFromInt(20)})
	snap := l.Snapshot()
	require.NoError(t, h.Save(ctx, snap))

	l.RemoveItem(item.ID)
	l.AddItem(models.Item{Name: "Beer", Price: decimal.NewFromInt(6)})

	saved, err := h.Get(snap.ID)
	require.NoError(t, err)
	require.Len(t, saved.Items, 1)
	assert.Equal(t, "Pizza", saved.Items[0].Name)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)
	require.NoError(t, h.Save(ctx, snapshot("b1", "Cafe")))
	require.NoError(t, h.Save(ctx, snapshot("b2", "Diner")))

	require.NoError(t, h.Delete(ctx, "b1"))
	assert.ErrorIs(t, h.Delete(ctx, "b1"), ErrSnapshotNotFound)
	_, err = h.Get("b1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	reloaded, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
}

func TestWriteFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	store := &failingStore{Store: memory.New(), err: boom}

	h, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)

	err = h.Save(ctx, snapshot("b1", "Cafe"))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, h.Len())
}

func TestLoad_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Put(ctx, Key("alice"), []byte("{not json")))

	h, err := Load(ctx, store, "alice", nil)
	require.NoError(t, err)
	assert.Zero(t, h.Len())
}

func TestLoad_StoreError(t *testing.T) {
	_, err := Load(context.Background(), errStore{}, "alice", nil)
	assert.Error(t, err)
}

type errStore struct{ storage.Store }

func (errStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("io error") }

func TestOwners(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, owner := range []string{"bob", "alice"} {
		h, err := Load(ctx, store, owner, nil)
		require.NoError(t, err)
		require.NoError(t, h.Save(ctx, snapshot("b1", "Cafe", "3")))
	}
	require.NoError(t, store.Put(ctx, "unrelated", []byte("x")))

	owners, err := Owners(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, owners)
}

func TestTitle(t *testing.T) {
	s := snapshot("b1", ledger.DefaultMerchant)
	assert.Equal(t, "Bill - Mar 4, 2025", Title(s))

	s.Users = append(s.Users, models.User{Name: "Bob"})
	assert.Equal(t, "Split with Me, Bob", Title(s))

	s.Users = append(s.Users, models.User{Name: "Cat"}, models.User{Name: "Dan"}, models.User{Name: "Eve"})
	assert.Equal(t, "Split with Me, Bob and 3 others", Title(s))

	s.Metadata.MerchantName = "Taco Town"
	assert.Equal(t, "Taco Town", Title(s))
}
