// Package models defines the core domain models for Splitchat.
//
// # Models
//
//   - Item: a line item on the receipt, shared evenly by the users assigned to it
//   - User: a participant in the bill; the first one is the permanent primary user
//   - BillMetadata: merchant, date and receipt number read off the receipt
//   - ConversationEntry: one message in the append-only chat log
//   - Snapshot: a saved, immutable copy of a bill
//
// # Design Principles
//
//  1. **Money is decimal**: prices and rates use shopspring/decimal, never float64
//  2. **Avoid circular references**: items refer to users by ID string
//  3. **Value semantics**: every type can be deep-copied with Clone so saved
//     snapshots never share slices with the live bill
package models
