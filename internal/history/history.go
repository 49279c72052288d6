// Package history keeps the list of saved bills.
//
// The whole list lives under one key in a storage.Store, most recent first,
// and is rewritten on every save and delete. Snapshots are deep-copied on
// the way in and out so a saved bill can never change behind its owner's
// back.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/internal/storage"
)

// SlotName is the storage key suffix holding the saved bills.
const SlotName = "split_bill_history"

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Key returns the storage key for owner's history.
func Key(owner string) string {
	if owner == "" {
		return SlotName
	}
	return owner + "/" + SlotName
}

// Entry is a saved bill as shown in a history list.
type Entry struct {
	ID           string          `json:"id"`
	Timestamp    int64           `json:"timestamp"`
	Title        string          `json:"title"`
	MerchantName string          `json:"merchantName"`
	Date         string          `json:"date"`
	ItemCount    int             `json:"itemCount"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// History is one owner's list of saved bills.
type History struct {
	store  storage.Store
	key    string
	logger *slog.Logger

	mu        sync.Mutex
	snapshots []models.Snapshot
}

// Load reads owner's history from store. A missing slot is an empty
// history; an unreadable one is logged and replaced on the next write.
func Load(ctx context.Context, store storage.Store, owner string, logger *slog.Logger) (*History, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{store: store, key: Key(owner), logger: logger}

	data, err := store.Get(ctx, h.key)
	if errors.Is(err, storage.ErrNotFound) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	if err := json.Unmarshal(data, &h.snapshots); err != nil {
		logger.Warn("discarding unreadable history", "key", h.key, "error", err)
		h.snapshots = nil
	}
	return h, nil
}

// Save puts a copy of s at the front of the list. A snapshot with the same
// ID is replaced.
func (h *History) Save(ctx context.Context, s models.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := make([]models.Snapshot, 0, len(h.snapshots)+1)
	next = append(next, s.Clone())
	for _, existing := range h.snapshots {
		if existing.ID != s.ID {
			next = append(next, existing)
		}
	}
	return h.commit(ctx, next)
}

// Get returns a copy of the snapshot with the given ID.
func (h *History) Get(id string) (models.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.snapshots {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return models.Snapshot{}, ErrSnapshotNotFound
}

// Delete removes the snapshot with the given ID.
func (h *History) Delete(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := make([]models.Snapshot, 0, len(h.snapshots))
	for _, s := range h.snapshots {
		if s.ID != id {
			next = append(next, s)
		}
	}
	if len(next) == len(h.snapshots) {
		return ErrSnapshotNotFound
	}
	return h.commit(ctx, next)
}

// List returns an entry per saved bill, most recent first.
func (h *History) List() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]Entry, len(h.snapshots))
	for i, s := range h.snapshots {
		subtotal := decimal.Zero
		for _, item := range s.Items {
			subtotal = subtotal.Add(item.Price)
		}
		entries[i] = Entry{
			ID:           s.ID,
			Timestamp:    s.Timestamp,
			Title:        Title(s),
			MerchantName: s.Metadata.MerchantName,
			Date:         s.Metadata.Date,
			ItemCount:    len(s.Items),
			Subtotal:     subtotal,
		}
	}
	return entries
}

// Len returns the number of saved bills.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots)
}

// commit persists next and makes it current. On a storage error the
// in-memory list is left untouched.
func (h *History) commit(ctx context.Context, next []models.Snapshot) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := h.store.Put(ctx, h.key, data); err != nil {
		h.logger.Error("failed to write history", "key", h.key, "error", err)
		return fmt.Errorf("failed to write history: %w", err)
	}
	h.snapshots = next
	return nil
}

// Owners lists the owners that have a history slot in store.
func Owners(ctx context.Context, store storage.Store) ([]string, error) {
	keys, err := store.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list history keys: %w", err)
	}
	var owners []string
	for _, key := range keys {
		if owner, ok := strings.CutSuffix(key, "/"+SlotName); ok && owner != "" {
			owners = append(owners, owner)
		}
	}
	return owners, nil
}

// Title names a saved bill after its merchant, or after the people on it
// when the receipt was never scanned.
func Title(s models.Snapshot) string {
	if name := strings.TrimSpace(s.Metadata.MerchantName); name != "" && name != ledger.DefaultMerchant {
		return name
	}

	names := make([]string, len(s.Users))
	for i, u := range s.Users {
		names[i] = u.Name
	}
	switch {
	case len(names) <= 1:
		return fmt.Sprintf("Bill - %s", s.Metadata.Date)
	case len(names) <= 3:
		return fmt.Sprintf("Split with %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("Split with %s and %d others",
		strings.Join(names[:2], ", "),
		len(names)-2,
	)
}
