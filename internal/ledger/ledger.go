// Package ledger holds the authoritative state of one bill: its items, the
// people splitting it, tax and tip rates, receipt metadata and the chat log.
//
// All mutation goes through Ledger methods, which keep one invariant at all
// times: an item's assignment set only ever names users that exist in the
// ledger. A Ledger is not safe for concurrent use; callers serialize access.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitchat/internal/calculator"
	"github.com/mmynk/splitchat/internal/models"
)

var (
	ErrPrimaryUser   = errors.New("the primary user cannot be removed")
	ErrEmptyName     = errors.New("user name must not be empty")
	ErrDuplicateName = errors.New("another user already has that name")
	ErrUserNotFound  = errors.New("user not found")
	ErrItemNotFound  = errors.New("item not found")
)

const (
	// DefaultPrimaryName is the display name of the bill owner.
	DefaultPrimaryName = "Me"
	// PrimaryColor is the display color of the bill owner.
	PrimaryColor = "#6366f1"
	// DefaultMerchant is the merchant name of a bill nobody has scanned yet.
	DefaultMerchant = "New Receipt"
	// DefaultCurrency prefixes every amount in the summary.
	DefaultCurrency = "$"
	// WelcomeMessage opens every new conversation.
	WelcomeMessage = "Welcome! Upload a receipt to get started."
	// DateLayout formats the default bill date, e.g. "Mar 4, 2025".
	DateLayout = "Jan 2, 2006"
)

// Default rates applied to new ledgers.
var (
	DefaultTaxRate = decimal.RequireFromString("0.08")
	DefaultTipRate = decimal.RequireFromString("0.15")
)

// Ledger is the in-memory record of one bill.
type Ledger struct {
	items        []models.Item
	users        []models.User
	conversation []models.ConversationEntry
	metadata     models.BillMetadata

	taxRate  decimal.Decimal
	tipRate  decimal.Decimal
	currency string

	primaryID   string
	primaryName string

	ids    IDGenerator
	colors ColorGenerator
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator sets the generator for item, user, message and snapshot IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Ledger) { l.ids = g }
}

// WithColorGenerator sets the generator for new users' colors.
func WithColorGenerator(g ColorGenerator) Option {
	return func(l *Ledger) { l.colors = g }
}

// WithClock sets the time source for message and snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRates sets the initial tax and tip rates.
func WithRates(taxRate, tipRate decimal.Decimal) Option {
	return func(l *Ledger) {
		l.taxRate = models.NonNegative(taxRate)
		l.tipRate = models.NonNegative(tipRate)
	}
}

// WithCurrency sets the currency symbol used in the summary.
func WithCurrency(symbol string) Option {
	return func(l *Ledger) { l.currency = symbol }
}

// WithPrimaryName sets the display name of the primary user.
func WithPrimaryName(name string) Option {
	return func(l *Ledger) {
		if name = strings.TrimSpace(name); name != "" {
			l.primaryName = name
		}
	}
}

// New creates a ledger holding an empty bill and its primary user.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		taxRate:     DefaultTaxRate,
		tipRate:     DefaultTipRate,
		currency:    DefaultCurrency,
		primaryName: DefaultPrimaryName,
		ids:         NewCounterIDs(),
		colors:      NewPaletteColors(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.primaryID = l.ids.NewID("u")
	l.clear()
	return l
}

// clear puts the ledger back to a fresh bill, keeping rates, currency and
// the primary user's ID.
func (l *Ledger) clear() {
	l.items = nil
	l.users = []models.User{{ID: l.primaryID, Name: l.primaryName, Color: PrimaryColor}}
	l.metadata = l.defaultMetadata()
	l.conversation = nil
	l.AppendMessage(models.SenderSystem, WelcomeMessage)
}

func (l *Ledger) defaultMetadata() models.BillMetadata {
	return models.BillMetadata{
		MerchantName: DefaultMerchant,
		Date:         l.now().Format(DateLayout),
		Status:       models.BillStatusPending,
	}
}

// ItemPatch holds the item fields to change; nil fields are left alone.
type ItemPatch struct {
	Name  *string
	Price *decimal.Decimal
}

// Items returns a deep copy of the items in receipt order.
func (l *Ledger) Items() []models.Item {
	return models.CloneItems(l.items)
}

// Item returns a copy of the item with the given ID.
func (l *Ledger) Item(id string) (models.Item, bool) {
	if i := l.itemIndex(id); i >= 0 {
		return l.items[i].Clone(), true
	}
	return models.Item{}, false
}

// AddItem appends an item and returns the stored copy.
// An empty ID is filled in; a negative price becomes zero; assignments to
// unknown users are dropped.
func (l *Ledger) AddItem(item models.Item) models.Item {
	item = l.sanitizeItem(item)
	if item.ID == "" {
		item.ID = l.ids.NewID("i")
	}
	l.items = append(l.items, item)
	return item.Clone()
}

// UpdateItem merges patch into the item. It reports whether the item exists.
func (l *Ledger) UpdateItem(id string, patch ItemPatch) bool {
	i := l.itemIndex(id)
	if i < 0 {
		return false
	}
	if patch.Name != nil {
		l.items[i].Name = *patch.Name
	}
	if patch.Price != nil {
		l.items[i].Price = models.NonNegative(*patch.Price)
	}
	return true
}

// RemoveItem deletes an item. It reports whether the item existed.
func (l *Ledger) RemoveItem(id string) bool {
	i := l.itemIndex(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// ReplaceItems swaps the whole item list, as when a receipt scan resolves.
// Every item gets a fresh ID so provider-supplied IDs can never collide with
// items added earlier.
func (l *Ledger) ReplaceItems(items []models.Item) []models.Item {
	replaced := make([]models.Item, 0, len(items))
	for _, item := range items {
		item = l.sanitizeItem(item)
		item.ID = l.ids.NewID("i")
		replaced = append(replaced, item)
	}
	l.items = replaced
	return models.CloneItems(replaced)
}

// SetAssignment replaces an item's assignment set wholesale.
func (l *Ledger) SetAssignment(itemID string, userIDs []string) error {
	i := l.itemIndex(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	assigned := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if l.userIndex(id) < 0 {
			return ErrUserNotFound
		}
		if !contains(assigned, id) {
			assigned = append(assigned, id)
		}
	}
	l.items[i].AssignedTo = assigned
	return nil
}

// ToggleAssignment removes userID from the item if present, else adds it.
func (l *Ledger) ToggleAssignment(itemID, userID string) error {
	i := l.itemIndex(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	if l.items[i].IsAssignedTo(userID) {
		l.items[i].AssignedTo = remove(l.items[i].AssignedTo, userID)
		return nil
	}
	if l.userIndex(userID) < 0 {
		return ErrUserNotFound
	}
	l.items[i].AssignedTo = append(l.items[i].AssignedTo, userID)
	return nil
}

// Assign adds userID to the item's assignment set. Existing assignments are
// never removed, so assigning twice is harmless.
func (l *Ledger) Assign(itemID, userID string) error {
	i := l.itemIndex(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	if l.userIndex(userID) < 0 {
		return ErrUserNotFound
	}
	if !l.items[i].IsAssignedTo(userID) {
		l.items[i].AssignedTo = append(l.items[i].AssignedTo, userID)
	}
	return nil
}

func (l *Ledger) sanitizeItem(item models.Item) models.Item {
	item.Price = models.NonNegative(item.Price)
	assigned := make([]string, 0, len(item.AssignedTo))
	for _, id := range item.AssignedTo {
		if l.userIndex(id) >= 0 && !contains(assigned, id) {
			assigned = append(assigned, id)
		}
	}
	item.AssignedTo = assigned
	return item
}

func (l *Ledger) itemIndex(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

// UserPatch holds the user fields to change; nil fields are left alone.
type UserPatch struct {
	Name  *string
	Color *string
}

// Users returns a copy of the users, primary user first.
func (l *Ledger) Users() []models.User {
	return append([]models.User{}, l.users...)
}

// User returns the user with the given ID.
func (l *Ledger) User(id string) (models.User, bool) {
	if i := l.userIndex(id); i >= 0 {
		return l.users[i], true
	}
	return models.User{}, false
}

// Primary returns the permanent bill owner.
func (l *Ledger) Primary() models.User {
	u, _ := l.User(l.primaryID)
	return u
}

// FindUser looks a user up by name, ignoring case.
func (l *Ledger) FindUser(name string) (models.User, bool) {
	name = strings.TrimSpace(name)
	for _, u := range l.users {
		if strings.EqualFold(u.Name, name) {
			return u, true
		}
	}
	return models.User{}, false
}

// AddUser returns the user called name, creating it if no user has that name
// (compared case-insensitively).
func (l *Ledger) AddUser(name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, ErrEmptyName
	}
	if existing, ok := l.FindUser(name); ok {
		return existing, nil
	}

	u := models.User{ID: l.ids.NewID("u"), Name: name, Color: l.colors.NextColor()}
	l.users = append(l.users, u)
	return u, nil
}

// RemoveUser deletes a user and drops it from every item's assignments.
// Removing an unknown user is a no-op.
func (l *Ledger) RemoveUser(id string) error {
	if id == l.primaryID {
		return ErrPrimaryUser
	}
	i := l.userIndex(id)
	if i < 0 {
		return nil
	}
	l.users = append(l.users[:i], l.users[i+1:]...)
	for j := range l.items {
		l.items[j].AssignedTo = remove(l.items[j].AssignedTo, id)
	}
	return nil
}

// UpdateUser renames or recolors a user.
func (l *Ledger) UpdateUser(id string, patch UserPatch) error {
	i := l.userIndex(id)
	if i < 0 {
		return ErrUserNotFound
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return ErrEmptyName
		}
		if other, ok := l.FindUser(name); ok && other.ID != id {
			return ErrDuplicateName
		}
		l.users[i].Name = name
	}
	if patch.Color != nil {
		l.users[i].Color = *patch.Color
	}
	return nil
}

func (l *Ledger) userIndex(id string) int {
	for i := range l.users {
		if l.users[i].ID == id {
			return i
		}
	}
	return -1
}

// TaxRate returns the tax rate as a fraction (0.08 = 8%).
func (l *Ledger) TaxRate() decimal.Decimal { return l.taxRate }

// TipRate returns the tip rate as a fraction.
func (l *Ledger) TipRate() decimal.Decimal { return l.tipRate }

// SetRates sets both rates. Negative rates become zero.
func (l *Ledger) SetRates(taxRate, tipRate decimal.Decimal) {
	l.taxRate = models.NonNegative(taxRate)
	l.tipRate = models.NonNegative(tipRate)
}

// SetTaxRate sets the tax rate. A negative rate becomes zero.
func (l *Ledger) SetTaxRate(rate decimal.Decimal) { l.taxRate = models.NonNegative(rate) }

// SetTipRate sets the tip rate. A negative rate becomes zero.
func (l *Ledger) SetTipRate(rate decimal.Decimal) { l.tipRate = models.NonNegative(rate) }

// Currency returns the currency symbol.
func (l *Ledger) Currency() string { return l.currency }

// SetCurrency sets the currency symbol.
func (l *Ledger) SetCurrency(symbol string) { l.currency = symbol }

// MetadataPatch holds the metadata fields to change; nil fields are left alone.
type MetadataPatch struct {
	MerchantName  *string
	Date          *string
	ReceiptNumber *string
	Status        *models.BillStatus
}

// Metadata returns the bill metadata.
func (l *Ledger) Metadata() models.BillMetadata { return l.metadata }

// SetMetadata replaces the metadata wholesale.
func (l *Ledger) SetMetadata(m models.BillMetadata) {
	if m.Status == "" {
		m.Status = models.BillStatusPending
	}
	l.metadata = m
}

// UpdateMetadata merges patch into the metadata.
func (l *Ledger) UpdateMetadata(patch MetadataPatch) {
	if patch.MerchantName != nil {
		l.metadata.MerchantName = *patch.MerchantName
	}
	if patch.Date != nil {
		l.metadata.Date = *patch.Date
	}
	if patch.ReceiptNumber != nil {
		l.metadata.ReceiptNumber = *patch.ReceiptNumber
	}
	if patch.Status != nil {
		l.metadata.Status = *patch.Status
	}
}

// MergeMetadata copies the non-empty fields of m over the current metadata.
func (l *Ledger) MergeMetadata(m models.BillMetadata) {
	if m.MerchantName != "" {
		l.metadata.MerchantName = m.MerchantName
	}
	if m.Date != "" {
		l.metadata.Date = m.Date
	}
	if m.ReceiptNumber != "" {
		l.metadata.ReceiptNumber = m.ReceiptNumber
	}
	if m.Status != "" {
		l.metadata.Status = m.Status
	}
}

// AppendMessage adds an entry to the end of the conversation log.
func (l *Ledger) AppendMessage(senderID, text string) models.ConversationEntry {
	entry := models.ConversationEntry{
		ID:        l.ids.NewID("m"),
		SenderID:  senderID,
		Text:      text,
		Timestamp: l.now().UnixMilli(),
	}
	l.conversation = append(l.conversation, entry)
	return entry
}

// Conversation returns a copy of the conversation log, oldest first.
func (l *Ledger) Conversation() []models.ConversationEntry {
	return append([]models.ConversationEntry{}, l.conversation...)
}

// Totals returns subtotal, tax, tip and grand total.
func (l *Ledger) Totals() calculator.Totals {
	return calculator.CalculateTotals(l.calcItems(), l.taxRate, l.tipRate)
}

// Subtotal is the sum of all item prices.
func (l *Ledger) Subtotal() decimal.Decimal { return l.Totals().Subtotal }

// TaxAmount is subtotal × tax rate.
func (l *Ledger) TaxAmount() decimal.Decimal { return l.Totals().Tax }

// TipAmount is subtotal × tip rate.
func (l *Ledger) TipAmount() decimal.Decimal { return l.Totals().Tip }

// GrandTotal is subtotal + tax + tip.
func (l *Ledger) GrandTotal() decimal.Decimal { return l.Totals().GrandTotal }

// Share returns a user's pre-tax share of the items assigned to them.
// Unassigned items count for nobody here; see SummaryShares.
func (l *Ledger) Share(userID string) decimal.Decimal {
	return l.Shares()[userID]
}

// Shares returns every user's live pre-tax share, keyed by user ID.
// Users with nothing assigned map to zero.
func (l *Ledger) Shares() map[string]decimal.Decimal {
	return l.sharesWithFallback("")
}

// SummaryShares is like Shares but charges unassigned items to the primary
// user. The items themselves are not modified.
func (l *Ledger) SummaryShares() map[string]decimal.Decimal {
	return l.sharesWithFallback(l.primaryID)
}

// Breakdown itemizes what each user owes, tax and tip included, keyed by
// user ID. Unassigned items are charged to the primary user as in the
// summary. Users with nothing to pay are left out.
func (l *Ledger) Breakdown() map[string]*calculator.PersonSplit {
	return calculator.CalculateSplit(l.calcItems(), l.primaryID, l.taxRate, l.tipRate)
}

func (l *Ledger) sharesWithFallback(fallback string) map[string]decimal.Decimal {
	computed := calculator.CalculateShares(l.calcItems(), fallback)
	shares := make(map[string]decimal.Decimal, len(l.users))
	for _, u := range l.users {
		shares[u.ID] = computed[u.ID]
	}
	return shares
}

func (l *Ledger) calcItems() []calculator.Item {
	items := make([]calculator.Item, len(l.items))
	for i, item := range l.items {
		items[i] = calculator.Item{
			Description: item.Name,
			Amount:      item.Price,
			AssignedTo:  item.AssignedTo,
		}
	}
	return items
}

// Snapshot captures the bill as an independent deep copy.
func (l *Ledger) Snapshot() models.Snapshot {
	return models.Snapshot{
		ID:           l.ids.NewID("b"),
		Timestamp:    l.now().UnixMilli(),
		Metadata:     l.metadata,
		Items:        models.CloneItems(l.items),
		Users:        append([]models.User{}, l.users...),
		Conversation: append([]models.ConversationEntry{}, l.conversation...),
	}
}

// Restore replaces the live bill with a deep copy of s. Rates and currency
// are not part of a snapshot and stay as they are.
func (l *Ledger) Restore(s models.Snapshot) {
	s = s.Clone()

	l.users = s.Users
	if l.userIndex(l.primaryID) < 0 {
		if len(l.users) > 0 {
			l.primaryID = l.users[0].ID
		} else {
			l.users = []models.User{{ID: l.primaryID, Name: l.primaryName, Color: PrimaryColor}}
		}
	}
	// The primary user always comes first.
	if i := l.userIndex(l.primaryID); i > 0 {
		primary := l.users[i]
		l.users = append(l.users[:i], l.users[i+1:]...)
		l.users = append([]models.User{primary}, l.users...)
	}

	l.items = make([]models.Item, 0, len(s.Items))
	for _, item := range s.Items {
		l.items = append(l.items, l.sanitizeItem(item))
	}
	l.SetMetadata(s.Metadata)
	l.conversation = s.Conversation
}

// Reset starts a new bill: no items, only the primary user, a fresh
// conversation and default metadata. Rates and currency are kept.
func (l *Ledger) Reset() {
	l.clear()
	l.AppendMessage(models.SenderSystem, "Started a new bill.")
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
