package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmynk/splitchat/internal/ledger"
)

// Acknowledgments the executor writes back to the conversation.
const (
	MsgNoItemMatch   = "I understood who, but couldn't find those items on the receipt."
	MsgListening     = "I'm listening."
	MsgNotUnderstood = `I couldn't tell who had what. Try something like "Sarah had the nachos".`
)

// Interpreter handles messages the rules could not make sense of.
type Interpreter interface {
	InterpretFreeform(ctx context.Context, text string, bill BillView) (Intent, error)
}

// Executor interprets chat messages and applies them to a ledger.
type Executor struct {
	fallback Interpreter
	logger   *slog.Logger
}

// NewExecutor creates an executor. fallback may be nil, in which case
// messages the rules do not understand stay NONE.
func NewExecutor(fallback Interpreter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{fallback: fallback, logger: logger}
}

// Interpret runs the rule-based parser and falls back to the interpreter
// when it finds nothing. It does not touch any ledger, so callers may run it
// without holding the bill lock.
func (e *Executor) Interpret(ctx context.Context, text string, bill BillView) (Intent, error) {
	intent := Parse(text, bill)
	if intent.Action != ActionNone {
		e.logger.Debug("command parsed by rules", "assignments", len(intent.Assignments))
		return intent, nil
	}
	if e.fallback == nil {
		return intent, nil
	}

	e.logger.Debug("no rule matched, asking interpreter", "text", text)
	intent, err := e.fallback.InterpretFreeform(ctx, text, bill)
	if err != nil {
		return Intent{}, fmt.Errorf("interpret freeform: %w", err)
	}
	return intent, nil
}

// Pairing is one user-item assignment that was applied.
type Pairing struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ItemID   string `json:"itemId"`
	ItemName string `json:"itemName"`
}

// Result describes what Apply did.
type Result struct {
	// Message is the acknowledgment for the conversation log.
	Message  string
	Pairings []Pairing
}

// Apply carries out intent against l. Unknown people are added to the bill;
// item names that match nothing are skipped. Assignments are only ever
// added, never removed.
func Apply(l *ledger.Ledger, intent Intent) Result {
	switch intent.Action {
	case ActionAssign:
	case ActionChat:
		if strings.TrimSpace(intent.Response) == "" {
			return Result{Message: MsgListening}
		}
		return Result{Message: intent.Response}
	default:
		return Result{Message: MsgNotUnderstood}
	}

	var res Result
	for _, a := range intent.Assignments {
		user, err := l.AddUser(a.User)
		if err != nil {
			continue
		}
		for _, name := range a.Items {
			item, ok := findItem(l, name)
			if !ok {
				continue
			}
			if err := l.Assign(item.ID, user.ID); err != nil {
				continue
			}
			res.Pairings = append(res.Pairings, Pairing{
				UserID:   user.ID,
				UserName: user.Name,
				ItemID:   item.ID,
				ItemName: item.Name,
			})
		}
	}

	if len(res.Pairings) == 0 {
		res.Message = MsgNoItemMatch
		return res
	}
	updates := make([]string, len(res.Pairings))
	for i, p := range res.Pairings {
		updates[i] = p.UserName + " -> " + p.ItemName
	}
	res.Message = "Updated: " + strings.Join(updates, ", ")
	return res
}

type itemRef struct{ ID, Name string }

// findItem returns the first item whose name contains name, or is contained
// by it, ignoring case.
func findItem(l *ledger.Ledger, name string) (itemRef, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return itemRef{}, false
	}
	for _, item := range l.Items() {
		n := strings.ToLower(item.Name)
		if n == "" {
			continue
		}
		if strings.Contains(n, target) || strings.Contains(target, n) {
			return itemRef{ID: item.ID, Name: item.Name}, true
		}
	}
	return itemRef{}, false
}
