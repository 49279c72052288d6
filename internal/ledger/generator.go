package ledger

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for items, users, messages and snapshots.
// Implementations must never return the same ID twice for the same prefix.
type IDGenerator interface {
	NewID(prefix string) string
}

// ColorGenerator produces display colors for new users.
type ColorGenerator interface {
	NextColor() string
}

// CounterIDs generates monotonic IDs like "u1", "u2", "i1", ...
// Each prefix has its own counter.
type CounterIDs struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewCounterIDs returns a deterministic ID generator.
func NewCounterIDs() *CounterIDs {
	return &CounterIDs{counters: make(map[string]int)}
}

// NewID implements IDGenerator.
func (c *CounterIDs) NewID(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[prefix]++
	return prefix + strconv.Itoa(c.counters[prefix])
}

// UUIDIDs generates random UUID-based IDs.
type UUIDIDs struct{}

// NewID implements IDGenerator.
func (UUIDIDs) NewID(prefix string) string {
	return prefix + uuid.NewString()
}

// DefaultPalette is the set of colors PaletteColors cycles through.
var DefaultPalette = []string{
	"#f59e0b", "#10b981", "#ef4444", "#3b82f6", "#ec4899", "#8b5cf6", "#14b8a6", "#f97316",
}

// PaletteColors cycles through a fixed palette.
type PaletteColors struct {
	mu      sync.Mutex
	palette []string
	next    int
}

// NewPaletteColors returns a deterministic color generator.
// An empty palette falls back to DefaultPalette.
func NewPaletteColors(palette ...string) *PaletteColors {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &PaletteColors{palette: palette}
}

// NextColor implements ColorGenerator.
func (p *PaletteColors) NextColor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.palette[p.next%len(p.palette)]
	p.next++
	return c
}

// RandomColors draws "#rrggbb" colors from an injected random source.
type RandomColors struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomColors returns a color generator seeded with seed.
func NewRandomColors(seed uint64) *RandomColors {
	return &RandomColors{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NextColor implements ColorGenerator.
func (r *RandomColors) NextColor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("#%06x", r.rng.IntN(0x1000000))
}
