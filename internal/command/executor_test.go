package command

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/models"
)

type fakeInterpreter struct {
	intent Intent
	err    error
	calls  []string
}

func (f *fakeInterpreter) InterpretFreeform(_ context.Context, text string, _ BillView) (Intent, error) {
	f.calls = append(f.calls, text)
	return f.intent, f.err
}

func newBill(t *testing.T, names ...string) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	for _, n := range names {
		l.AddItem(models.Item{Name: n, Price: decimal.NewFromInt(10)})
	}
	return l
}

func viewOf(l *ledger.Ledger) BillView {
	return BillView{Items: l.Items(), Users: l.Users(), PrimaryName: l.Primary().Name}
}

func TestExecutor_RulesFirst(t *testing.T) {
	fallback := &fakeInterpreter{intent: Intent{Action: ActionChat, Response: "hi"}}
	e := NewExecutor(fallback, nil)
	l := newBill(t, "Nachos")

	intent, err := e.Interpret(context.Background(), "Dhruv and Sarah shared the nachos", viewOf(l))
	require.NoError(t, err)
	assert.Equal(t, ActionAssign, intent.Action)
	assert.Empty(t, fallback.calls)
}

func TestExecutor_FallsBackOnNone(t *testing.T) {
	want := Intent{Action: ActionAssign, Assignments: []Assignment{{User: "Me", Items: []string{"Nachos"}}}}
	fallback := &fakeInterpreter{intent: want}
	e := NewExecutor(fallback, nil)
	l := newBill(t, "Nachos")

	intent, err := e.Interpret(context.Background(), "put the cheesy thing on my tab", viewOf(l))
	require.NoError(t, err)
	assert.Equal(t, want, intent)
	assert.Equal(t, []string{"put the cheesy thing on my tab"}, fallback.calls)
}

func TestExecutor_FallbackError(t *testing.T) {
	boom := errors.New("quota exhausted")
	e := NewExecutor(&fakeInterpreter{err: boom}, nil)

	_, err := e.Interpret(context.Background(), "hello there", viewOf(newBill(t)))
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_NoFallback(t *testing.T) {
	e := NewExecutor(nil, nil)
	intent, err := e.Interpret(context.Background(), "hello there", viewOf(newBill(t)))
	require.NoError(t, err)
	assert.Equal(t, None(), intent)
}

func TestApply_Assign(t *testing.T) {
	l := newBill(t, "Nachos", "Club Soda")

	res := Apply(l, Parse("Dhruv and Sarah shared the nachos", viewOf(l)))

	assert.Equal(t, "Updated: Dhruv -> Nachos, Sarah -> Nachos", res.Message)
	require.Len(t, res.Pairings, 2)
	assert.Len(t, l.Users(), 3)

	nachos, _ := l.Item(res.Pairings[0].ItemID)
	assert.Equal(t, []string{res.Pairings[0].UserID, res.Pairings[1].UserID}, nachos.AssignedTo)
}

func TestApply_Idempotent(t *testing.T) {
	l := newBill(t, "Club Soda")
	intent := Parse("I had soda", viewOf(l))

	Apply(l, intent)
	res := Apply(l, intent)

	assert.Equal(t, "Updated: Me -> Club Soda", res.Message)
	assert.Equal(t, []string{l.Primary().ID}, l.Items()[0].AssignedTo)
	assert.Len(t, l.Users(), 1)
}

func TestApply_ReusesExistingUserCaseInsensitively(t *testing.T) {
	l := newBill(t, "Fries")
	bob, err := l.AddUser("Bob")
	require.NoError(t, err)

	res := Apply(l, Intent{Action: ActionAssign, Assignments: []Assignment{{User: "BOB", Items: []string{"fries"}}}})

	assert.Equal(t, "Updated: Bob -> Fries", res.Message)
	assert.Equal(t, []string{bob.ID}, l.Items()[0].AssignedTo)
	assert.Len(t, l.Users(), 2)
}

func TestApply_BidirectionalContainment(t *testing.T) {
	l := newBill(t, "Club Soda", "Soda Water")

	res := Apply(l, Intent{Action: ActionAssign, Assignments: []Assignment{
		{User: "Ann", Items: []string{"large club soda"}},
		{User: "Ben", Items: []string{"soda"}},
	}})

	assert.Equal(t, "Updated: Ann -> Club Soda, Ben -> Club Soda", res.Message)
}

func TestApply_NoItemMatch(t *testing.T) {
	l := newBill(t, "Nachos")

	res := Apply(l, Intent{Action: ActionAssign, Assignments: []Assignment{{User: "Bob", Items: []string{"unicorn"}}}})

	assert.Equal(t, MsgNoItemMatch, res.Message)
	assert.Empty(t, res.Pairings)
	assert.Empty(t, l.Items()[0].AssignedTo)
}

func TestApply_SkipsEmptyNames(t *testing.T) {
	l := newBill(t, "Nachos")

	res := Apply(l, Intent{Action: ActionAssign, Assignments: []Assignment{
		{User: " ", Items: []string{"nachos"}},
		{User: "Kim", Items: []string{"", "nachos"}},
	}})

	assert.Equal(t, "Updated: Kim -> Nachos", res.Message)
	assert.Len(t, l.Users(), 2)
}

func TestApply_Chat(t *testing.T) {
	l := newBill(t)

	assert.Equal(t, "Sure thing!", Apply(l, Intent{Action: ActionChat, Response: "Sure thing!"}).Message)
	assert.Equal(t, MsgListening, Apply(l, Intent{Action: ActionChat}).Message)
	assert.Equal(t, MsgNotUnderstood, Apply(l, None()).Message)
}
