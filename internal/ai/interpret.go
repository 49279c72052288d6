package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmynk/splitchat/internal/command"
)

// MsgTrouble is the reply when the model answers with something unreadable.
const MsgTrouble = "I'm having trouble understanding that. Could you try again?"

const interpretPrompt = `You are a smart bill-splitting assistant.

Current Items:
%s

Current Users:
%s

User Message: %q

Task:
Analyze the message and determine if the user is trying to assign items to people.
If yes, return a JSON object with the following structure:
{
    "action": "ASSIGN",
    "assignments": [
        { "user": "ExactUserNameOrNewName", "items": ["ExactItemNameFromList"] }
    ]
}

Rules:
1. "I", "me" and "my" refer to the user named %q.
2. If multiple people shared an item, list the item for EACH person.
3. Match item names as closely as possible to the list.
4. If the message is just chat or a question, return { "action": "CHAT", "response": "Your helpful response" }.
5. Return ONLY valid JSON. Do not include markdown formatting.`

type promptItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type promptUser struct {
	Name string `json:"name"`
}

// InterpretFreeform asks the model what a chat message means. Replies that
// cannot be parsed become a CHAT intent asking the user to rephrase; only
// failures to reach the model are returned as errors.
func (c *Client) InterpretFreeform(ctx context.Context, text string, bill command.BillView) (command.Intent, error) {
	items := make([]promptItem, len(bill.Items))
	for i, it := range bill.Items {
		items[i] = promptItem{ID: it.ID, Name: it.Name, Price: it.Price.StringFixed(2)}
	}
	users := make([]promptUser, len(bill.Users))
	for i, u := range bill.Users {
		users[i] = promptUser{Name: u.Name}
	}
	itemsJSON, _ := json.Marshal(items)
	usersJSON, _ := json.Marshal(users)

	primary := bill.PrimaryName
	if primary == "" {
		primary = "Me"
	}

	reply, err := c.generate(ctx, "interpret", Request{
		Prompt: fmt.Sprintf(interpretPrompt, itemsJSON, usersJSON, text, primary),
	})
	if err != nil {
		return command.Intent{}, err
	}

	intent, err := parseIntent(reply)
	if err != nil {
		c.logger.Warn("failed to parse interpretation", "error", err, "response", truncate(reply, 500))
		return command.Intent{Action: command.ActionChat, Response: MsgTrouble}, nil
	}
	return intent, nil
}

func parseIntent(text string) (command.Intent, error) {
	var intent command.Intent
	if err := json.Unmarshal([]byte(cleanJSON(text)), &intent); err != nil {
		return command.Intent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	intent.Action = command.Action(strings.ToUpper(strings.TrimSpace(string(intent.Action))))
	switch intent.Action {
	case command.ActionAssign:
		var kept []command.Assignment
		for _, a := range intent.Assignments {
			if strings.TrimSpace(a.User) != "" && len(a.Items) > 0 {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			return command.Intent{Action: command.ActionChat, Response: intent.Response}, nil
		}
		return command.Intent{Action: command.ActionAssign, Assignments: kept}, nil
	case command.ActionChat:
		return command.Intent{Action: command.ActionChat, Response: intent.Response}, nil
	}
	return command.Intent{}, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, intent.Action)
}
