package models

// User represents one participant of a bill.
//
// Users are created explicitly or implicitly when a chat command names someone
// new. Names are unique within a bill, compared case-insensitively.
type User struct {
	// ID is the unique identifier for the user within the bill.
	ID string `json:"id"`

	// Name is the display name (never empty).
	Name string `json:"name"`

	// Color is the display color, e.g. "#6366f1".
	Color string `json:"color"`
}
