// Package session runs live bills: one Ledger per session, guarded by a
// mutex, with chat commands and receipt scans that call out to the AI
// service without holding the lock.
//
// Every Bill carries a generation counter that moves whenever the bill is
// reset or replaced by a saved one. Async results remember the generation
// they started in and are dropped if it has moved on.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/ai"
	"github.com/mmynk/splitchat/internal/calculator"
	"github.com/mmynk/splitchat/internal/command"
	"github.com/mmynk/splitchat/internal/history"
	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/metrics"
	"github.com/mmynk/splitchat/internal/models"
)

// System messages.
const (
	MsgScanning = "Scanning receipt with Gemini AI..."
	MsgSaved    = "Bill saved to history!"
	MsgGlitch   = "I had a glitch processing that. Try again?"
)

// DefaultScanTimeout bounds a receipt scan, retries included.
const DefaultScanTimeout = 2 * time.Minute

var ErrEmptyMessage = errors.New("message is empty")

// Extractor reads receipts. *ai.Client implements it.
type Extractor interface {
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*ai.Receipt, error)
}

// Deps are the collaborators shared by every bill.
type Deps struct {
	Executor *command.Executor

	// Extractor may be nil when no AI service is configured; scans then
	// fail with a chat message.
	Extractor Extractor

	Logger      *slog.Logger
	ScanTimeout time.Duration
}

// State is a consistent copy of a bill at one moment.
type State struct {
	SessionID    string
	Items        []models.Item
	Users        []models.User
	PrimaryID    string
	Metadata     models.BillMetadata
	Conversation []models.ConversationEntry
	TaxRate      decimal.Decimal
	TipRate      decimal.Decimal
	Currency     string
	Totals       calculator.Totals
	Shares       map[string]decimal.Decimal
	Breakdown    map[string]*calculator.PersonSplit
	Scanning     bool
}

// Reply is the result of a chat message.
type Reply struct {
	// Entry is the system acknowledgment; zero when Discarded.
	Entry    models.ConversationEntry
	Pairings []command.Pairing

	// Discarded is set when the bill was reset or reloaded while the
	// message was being interpreted.
	Discarded bool
}

// Bill is a live, lockable bill.
type Bill struct {
	id      string
	deps    Deps
	history *history.History
	logger  *slog.Logger

	mu         sync.Mutex
	ledger     *ledger.Ledger
	generation uint64
	scans      int
	// scanSeq numbers scans; only the latest one may land.
	scanSeq uint64

	wg sync.WaitGroup
}

// NewBill wraps l. h is the owner's saved-bill history.
func NewBill(id string, l *ledger.Ledger, h *history.History, deps Deps) *Bill {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Executor == nil {
		deps.Executor = command.NewExecutor(nil, deps.Logger)
	}
	if deps.ScanTimeout <= 0 {
		deps.ScanTimeout = DefaultScanTimeout
	}
	return &Bill{
		id:      id,
		deps:    deps,
		history: h,
		logger:  deps.Logger.With("session_id", id),
		ledger:  l,
	}
}

// ID returns the session ID.
func (b *Bill) ID() string { return b.id }

// State returns a copy of the bill.
func (b *Bill) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Bill) stateLocked() State {
	l := b.ledger
	return State{
		SessionID:    b.id,
		Items:        l.Items(),
		Users:        l.Users(),
		PrimaryID:    l.Primary().ID,
		Metadata:     l.Metadata(),
		Conversation: l.Conversation(),
		TaxRate:      l.TaxRate(),
		TipRate:      l.TipRate(),
		Currency:     l.Currency(),
		Totals:       l.Totals(),
		Shares:       l.Shares(),
		Breakdown:    l.Breakdown(),
		Scanning:     b.scans > 0,
	}
}

// Update runs fn against the ledger under the bill lock and returns the
// resulting state. fn's error is returned as is.
func (b *Bill) Update(fn func(l *ledger.Ledger) error) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := fn(b.ledger); err != nil {
		return State{}, err
	}
	return b.stateLocked(), nil
}

// Summary returns the shareable summary text.
func (b *Bill) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.SummaryText()
}

// SendMessage records a user message, interprets it and applies the result.
// Interpretation may call the AI service; the bill stays unlocked meanwhile,
// so manual edits made in the gap are visible to Apply.
func (b *Bill) SendMessage(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	b.mu.Lock()
	b.ledger.AppendMessage(models.SenderUser, text)
	gen := b.generation
	view := command.BillView{
		Items:       b.ledger.Items(),
		Users:       b.ledger.Users(),
		PrimaryName: b.ledger.Primary().Name,
	}
	b.mu.Unlock()

	intent, err := b.deps.Executor.Interpret(ctx, text, view)

	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		b.logger.Info("dropping stale command result", "started_generation", gen, "generation", b.generation)
		metrics.StaleResultsTotal.WithLabelValues("command").Inc()
		metrics.CommandsTotal.WithLabelValues("stale").Inc()
		return Reply{Discarded: true}, nil
	}

	if err != nil {
		b.logger.Error("failed to interpret message", "error", err)
		metrics.CommandsTotal.WithLabelValues("error").Inc()
		return Reply{Entry: b.ledger.AppendMessage(models.SenderSystem, MsgGlitch)}, nil
	}

	res := command.Apply(b.ledger, intent)
	metrics.CommandsTotal.WithLabelValues(strings.ToLower(string(intent.Action))).Inc()
	b.logger.Debug("command applied", "action", intent.Action, "pairings", len(res.Pairings))

	return Reply{
		Entry:    b.ledger.AppendMessage(models.SenderSystem, res.Message),
		Pairings: res.Pairings,
	}, nil
}

// ScanReceipt posts a "scanning" message and extracts the receipt in the
// background. When the scan resolves, its items replace the bill's items
// wholesale, unless the bill was reset or reloaded in the meantime or a
// later scan was started.
// The returned entry is the "scanning" message.
func (b *Bill) ScanReceipt(ctx context.Context, image []byte, mimeType string) models.ConversationEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.ledger.AppendMessage(models.SenderSystem, MsgScanning)
	gen := b.generation
	b.scans++
	b.scanSeq++
	seq := b.scanSeq

	img := append([]byte{}, image...)
	scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.deps.ScanTimeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		b.runScan(scanCtx, gen, seq, img, mimeType)
	}()
	return entry
}

func (b *Bill) runScan(ctx context.Context, gen, seq uint64, image []byte, mimeType string) {
	var (
		receipt *ai.Receipt
		err     error
	)
	if b.deps.Extractor == nil {
		err = ai.ErrNoAPIKey
	} else {
		receipt, err = b.deps.Extractor.ExtractReceipt(ctx, image, mimeType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.scans--

	if gen != b.generation {
		b.logger.Info("dropping stale scan result", "started_generation", gen, "generation", b.generation)
		metrics.StaleResultsTotal.WithLabelValues("scan").Inc()
		return
	}
	if seq != b.scanSeq {
		b.logger.Info("dropping superseded scan result", "scan", seq, "latest_scan", b.scanSeq)
		metrics.StaleResultsTotal.WithLabelValues("scan").Inc()
		return
	}

	if err != nil {
		b.logger.Error("receipt scan failed", "error", err)
		metrics.ReceiptScansTotal.WithLabelValues("error").Inc()
		b.ledger.AppendMessage(models.SenderSystem, fmt.Sprintf("Error: %s. Please try again.", ai.Reason(err)))
		return
	}

	items := b.ledger.ReplaceItems(receipt.Items)
	b.ledger.MergeMetadata(receipt.Metadata)

	merchant := receipt.Metadata.MerchantName
	if merchant == "" {
		merchant = "the receipt"
	}
	metrics.ReceiptScansTotal.WithLabelValues("ok").Inc()
	b.logger.Info("receipt scanned", "items", len(items), "merchant", merchant)
	b.ledger.AppendMessage(models.SenderSystem, fmt.Sprintf("Success! I found %d items from %s.", len(items), merchant))
}

// Wait blocks until every scan started so far has finished.
func (b *Bill) Wait() {
	b.wg.Wait()
}

// Save stores a snapshot of the bill in history.
func (b *Bill) Save(ctx context.Context) (models.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.ledger.Snapshot()
	if err := b.history.Save(ctx, snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to save bill: %w", err)
	}
	b.ledger.AppendMessage(models.SenderSystem, MsgSaved)
	b.logger.Info("bill saved", "snapshot_id", snap.ID, "items", len(snap.Items))
	return snap, nil
}

// Load replaces the live bill with a saved one. In-flight scans and
// commands started before the load are discarded.
func (b *Bill) Load(id string) (State, error) {
	snap, err := b.history.Get(id)
	if err != nil {
		return State{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.ledger.Restore(snap)
	b.ledger.AppendMessage(models.SenderSystem, "Loaded bill: "+snap.Metadata.MerchantName)
	b.logger.Info("bill loaded", "snapshot_id", id)
	return b.stateLocked(), nil
}

// DeleteSaved removes a saved bill from history. The live bill is untouched.
func (b *Bill) DeleteSaved(ctx context.Context, id string) error {
	return b.history.Delete(ctx, id)
}

// History lists the saved bills, most recent first.
func (b *Bill) History() []history.Entry {
	return b.history.List()
}

// Reset starts a new bill. In-flight scans and commands are discarded.
func (b *Bill) Reset() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.ledger.Reset()
	b.logger.Info("bill reset")
	return b.stateLocked()
}
