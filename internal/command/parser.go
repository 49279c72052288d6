// Package command turns chat messages into bill assignments.
//
// Parse is a small deterministic rule engine: it splits a message into
// clauses, pulls out who each clause is about and which receipt items it
// names, and reports the result as an Intent. When the rules find nothing,
// an Executor can hand the message to an Interpreter (usually an LLM).
package command

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mmynk/splitchat/internal/models"
)

// Action is the kind of intent a message carries.
type Action string

const (
	// ActionAssign assigns items to people.
	ActionAssign Action = "ASSIGN"
	// ActionNone means no interpretation was found.
	ActionNone Action = "NONE"
	// ActionChat is a conversational reply with no ledger change.
	ActionChat Action = "CHAT"
)

// Assignment names one person and the items they should share.
type Assignment struct {
	User  string   `json:"user"`
	Items []string `json:"items"`
}

// Intent is the structured result of interpreting a message.
type Intent struct {
	Action      Action       `json:"action"`
	Assignments []Assignment `json:"assignments,omitempty"`
	Response    string       `json:"response,omitempty"`
}

// None is the intent for a message nothing could be made of.
func None() Intent { return Intent{Action: ActionNone} }

// BillView is the read-only state a message is interpreted against.
type BillView struct {
	Items []models.Item
	Users []models.User

	// PrimaryName is what "I", "me" and "my" resolve to.
	PrimaryName string
}

var (
	clauseBreak = regexp.MustCompile(`[,.;!?]+`)
	wordBreak   = regexp.MustCompile(`[^\p{L}\p{N}'&-]+`)
)

var actionVerbs = map[string]bool{
	"had": true, "ate": true, "drank": true, "ordered": true,
	"got": true, "shared": true, "split": true,
}

var pronouns = map[string]bool{"i": true, "me": true, "my": true}

var stopwords = map[string]bool{"the": true, "a": true, "an": true, "of": true, "with": true}

// Parse interprets text against bill. It never fails: a message that names
// nobody, or names people but no known item, yields None.
func Parse(text string, bill BillView) Intent {
	primary := bill.PrimaryName
	if primary == "" {
		primary = "Me"
	}

	var assignments []Assignment
	for _, clause := range splitClauses(text) {
		users := extractUsers(clause, bill.Users, primary)
		if len(users) == 0 {
			continue
		}
		items := extractItems(clause, users, bill.Items)
		if len(items) == 0 {
			continue
		}
		for _, u := range users {
			assignments = append(assignments, Assignment{User: u, Items: append([]string{}, items...)})
		}
	}

	if len(assignments) == 0 {
		return None()
	}
	return Intent{Action: ActionAssign, Assignments: assignments}
}

// splitClauses lower-cases text and breaks it into word lists. Punctuation
// always ends a clause. "and" ends one only when a verb has already appeared
// in the current clause and the words up to the next "and" hold another
// verb, so "rice and beans" stays together while "bob had fries and sue had
// soda" splits.
func splitClauses(text string) [][]string {
	var clauses [][]string
	for _, segment := range clauseBreak.Split(strings.ToLower(text), -1) {
		words := tokenize(segment)

		var current []string
		for i, w := range words {
			if w == "and" && hasVerb(current) && hasVerb(nextSegment(words[i+1:])) {
				clauses = append(clauses, current)
				current = nil
				continue
			}
			current = append(current, w)
		}
		if len(current) > 0 {
			clauses = append(clauses, current)
		}
	}
	return clauses
}

func tokenize(s string) []string {
	return strings.Fields(wordBreak.ReplaceAllString(s, " "))
}

func nextSegment(words []string) []string {
	for i, w := range words {
		if w == "and" {
			return words[:i]
		}
	}
	return words
}

func hasVerb(words []string) bool {
	for _, w := range words {
		if actionVerbs[w] {
			return true
		}
	}
	return false
}

// extractUsers returns the display names a clause refers to, in first-seen
// order without case-insensitive duplicates.
func extractUsers(clause []string, users []models.User, primary string) []string {
	var found []string
	add := func(name string) {
		for _, f := range found {
			if strings.EqualFold(f, name) {
				return
			}
		}
		found = append(found, name)
	}

	for _, w := range clause {
		if pronouns[w] {
			add(primary)
			break
		}
	}

	// Words of a known user matched here are not new names. A partial match
	// ("bob" against "Bob Smith") leaves the word free.
	covered := make(map[string]bool)
	for _, u := range users {
		nameWords := tokenize(strings.ToLower(u.Name))
		if len(nameWords) == 0 || !containsPhrase(clause, nameWords) {
			continue
		}
		add(u.Name)
		for _, w := range nameWords {
			covered[w] = true
		}
	}

	// Unknown words in front of the first verb are taken as new names.
	verb := -1
	for i, w := range clause {
		if actionVerbs[w] {
			verb = i
			break
		}
	}
	for _, w := range clause[:max(verb, 0)] {
		if w == "and" || pronouns[w] || covered[w] || utf8.RuneCountInString(w) < 2 {
			continue
		}
		add(capitalize(w))
	}
	return found
}

// extractItems strips people, verbs and filler from a clause and matches
// what is left against the receipt. Each item name appears once.
func extractItems(clause []string, names []string, items []models.Item) []string {
	drop := make(map[string]bool)
	for _, n := range names {
		for _, w := range tokenize(strings.ToLower(n)) {
			drop[w] = true
		}
	}

	var phrases [][]string
	var phrase []string
	for _, w := range clause {
		switch {
		case w == "and":
			phrases = append(phrases, phrase)
			phrase = nil
		case actionVerbs[w] || stopwords[w] || pronouns[w] || drop[w]:
		default:
			phrase = append(phrase, w)
		}
	}
	phrases = append(phrases, phrase)

	var matched []string
	for _, p := range phrases {
		if len(p) == 0 {
			continue
		}
		name, ok := matchItem(p, items)
		if !ok || containsString(matched, name) {
			continue
		}
		matched = append(matched, name)
	}
	return matched
}

// matchItem finds the item a phrase refers to. An exact name match wins;
// otherwise the item sharing the most words with the phrase does, with the
// earliest item winning ties.
func matchItem(phrase []string, items []models.Item) (string, bool) {
	query := strings.Join(phrase, " ")
	for _, item := range items {
		if strings.EqualFold(item.Name, query) {
			return item.Name, true
		}
	}

	best, bestOverlap := "", 0
	for _, item := range items {
		itemWords := strings.Fields(strings.ToLower(item.Name))
		overlap := 0
		for _, q := range phrase {
			if utf8.RuneCountInString(q) <= 2 {
				continue
			}
			for _, iw := range itemWords {
				if strings.Contains(iw, q) {
					overlap++
					break
				}
			}
		}
		if overlap > bestOverlap {
			best, bestOverlap = item.Name, overlap
		}
	}
	return best, bestOverlap > 0
}

func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	return string(unicode.ToUpper(r)) + w[size:]
}
