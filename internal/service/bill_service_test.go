package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitchat/internal/ai"
	"github.com/mmynk/splitchat/internal/auth"
	"github.com/mmynk/splitchat/internal/middleware"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/internal/session"
	"github.com/mmynk/splitchat/internal/storage/sqlite"
)

type stubExtractor struct {
	receipt *ai.Receipt
	err     error
}

func (e stubExtractor) ExtractReceipt(context.Context, []byte, string) (*ai.Receipt, error) {
	return e.receipt, e.err
}

type testServer struct {
	url      string
	registry *session.Registry
}

// setupTestServer starts the bill service on an httptest server backed by a
// temp SQLite database, with the real session interceptor in front.
func setupTestServer(t *testing.T, extractor session.Extractor) *testServer {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	registry := session.NewRegistry(store, session.Deps{Extractor: extractor})
	tokens := auth.NewJWTManager("test-secret", time.Hour)

	interceptors := connect.WithInterceptors(
		middleware.RequireSession(tokens, PublicProcedures...),
		middleware.LoggingInterceptor(nil),
	)
	path, handler := NewBillServiceHandler(NewBillService(registry, tokens, nil), interceptors)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		registry.Wait()
		store.Close()
	})
	return &testServer{url: server.URL, registry: registry}
}

// call invokes one procedure with an optional bearer token.
func call[Req, Res any](t *testing.T, s *testServer, procedure, token string, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, s.url+procedure, WithJSON())
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func startSession(t *testing.T, s *testServer) *StartSessionResponse {
	t.Helper()
	resp, err := call[StartSessionRequest, StartSessionResponse](t, s, StartSessionProcedure, "", &StartSessionRequest{})
	require.NoError(t, err)
	return resp
}

func addItem(t *testing.T, s *testServer, token, name, price string) models.Item {
	t.Helper()
	resp, err := call[AddItemRequest, AddItemResponse](t, s, AddItemProcedure, token, &AddItemRequest{Name: name, Price: price})
	require.NoError(t, err)
	return resp.Item
}

func TestStartSession(t *testing.T) {
	s := setupTestServer(t, nil)

	resp := startSession(t, s)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	require.Len(t, resp.Bill.Users, 1)
	assert.Equal(t, "Me", resp.Bill.Users[0].Name)
	assert.Equal(t, resp.Bill.Users[0].ID, resp.Bill.PrimaryUserID)
	assert.Empty(t, resp.Bill.Items)
	require.Len(t, resp.Bill.Conversation, 1)
	assert.Equal(t, models.SenderSystem, resp.Bill.Conversation[0].SenderID)
}

func TestRequiresToken(t *testing.T) {
	s := setupTestServer(t, nil)

	_, err := call[GetBillRequest, BillResponse](t, s, GetBillProcedure, "", &GetBillRequest{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call[GetBillRequest, BillResponse](t, s, GetBillProcedure, "garbage", &GetBillRequest{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestSessionsAreIsolated(t *testing.T) {
	s := setupTestServer(t, nil)
	a := startSession(t, s)
	b := startSession(t, s)

	addItem(t, s, a.Token, "Nachos", "12")

	resp, err := call[GetBillRequest, BillResponse](t, s, GetBillProcedure, b.Token, &GetBillRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Bill.Items)
	assert.Equal(t, 2, s.registry.Len())
}

func TestItems(t *testing.T) {
	s := setupTestServer(t, nil)
	token := startSession(t, s).Token

	nachos := addItem(t, s, token, "Nachos", "$12.50")
	assert.True(t, decimal.RequireFromString("12.50").Equal(nachos.Price))

	junk := addItem(t, s, token, "Soda", "abc")
	assert.True(t, junk.Price.IsZero(), "non-numeric price becomes 0")

	blank := addItem(t, s, token, "", "")
	assert.Equal(t, DefaultItemName, blank.Name)

	price := "-4"
	name := "Diet Soda"
	resp, err := call[UpdateItemRequest, BillResponse](t, s, UpdateItemProcedure, token,
		&UpdateItemRequest{ItemID: junk.ID, Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Diet Soda", resp.Bill.Items[1].Name)
	assert.True(t, resp.Bill.Items[1].Price.IsZero())

	resp, err = call[RemoveItemRequest, BillResponse](t, s, RemoveItemProcedure, token, &RemoveItemRequest{ItemID: blank.ID})
	require.NoError(t, err)
	assert.Len(t, resp.Bill.Items, 2)

	_, err = call[RemoveItemRequest, BillResponse](t, s, RemoveItemProcedure, token, &RemoveItemRequest{ItemID: blank.ID})
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestUsersAndAssignments(t *testing.T) {
	s := setupTestServer(t, nil)
	start := startSession(t, s)
	token := start.Token
	me := start.Bill.PrimaryUserID

	item := addItem(t, s, token, "Nachos", "12")

	bob, err := call[AddUserRequest, AddUserResponse](t, s, AddUserProcedure, token, &AddUserRequest{Name: "Bob"})
	require.NoError(t, err)
	again, err := call[AddUserRequest, AddUserResponse](t, s, AddUserProcedure, token, &AddUserRequest{Name: "bob"})
	require.NoError(t, err)
	assert.Equal(t, bob.User.ID, again.User.ID, "names are matched case-insensitively")

	_, err = call[AddUserRequest, AddUserResponse](t, s, AddUserProcedure, token, &AddUserRequest{Name: "  "})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	resp, err := call[SetAssignmentRequest, BillResponse](t, s, SetAssignmentProcedure, token,
		&SetAssignmentRequest{ItemID: item.ID, UserIDs: []string{me, bob.User.ID}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(resp.Bill.Shares[me]))
	assert.True(t, decimal.NewFromInt(6).Equal(resp.Bill.Shares[bob.User.ID]))

	resp, err = call[ToggleAssignmentRequest, BillResponse](t, s, ToggleAssignmentProcedure, token,
		&ToggleAssignmentRequest{ItemID: item.ID, UserID: me})
	require.NoError(t, err)
	assert.Equal(t, []string{bob.User.ID}, resp.Bill.Items[0].AssignedTo)

	_, err = call[SetAssignmentRequest, BillResponse](t, s, SetAssignmentProcedure, token,
		&SetAssignmentRequest{ItemID: item.ID, UserIDs: []string{"nobody"}})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	name := "Me"
	_, err = call[UpdateUserRequest, BillResponse](t, s, UpdateUserProcedure, token,
		&UpdateUserRequest{UserID: bob.User.ID, Name: &name})
	assert.Equal(t, connect.CodeAlreadyExists, connect.CodeOf(err))

	_, err = call[RemoveUserRequest, BillResponse](t, s, RemoveUserProcedure, token, &RemoveUserRequest{UserID: me})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	resp, err = call[RemoveUserRequest, BillResponse](t, s, RemoveUserProcedure, token, &RemoveUserRequest{UserID: bob.User.ID})
	require.NoError(t, err)
	assert.Len(t, resp.Bill.Users, 1)
	assert.Empty(t, resp.Bill.Items[0].AssignedTo, "removing a user drops their assignments")
}

func TestRatesAndMetadata(t *testing.T) {
	s := setupTestServer(t, nil)
	token := startSession(t, s).Token
	addItem(t, s, token, "Dinner", "100")

	tax := decimal.RequireFromString("0.1")
	tip := decimal.RequireFromString("0.2")
	resp, err := call[SetRatesRequest, BillResponse](t, s, SetRatesProcedure, token, &SetRatesRequest{TaxRate: &tax, TipRate: &tip})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(130).Equal(resp.Bill.GrandTotal), "got %s", resp.Bill.GrandTotal)

	neg := decimal.NewFromInt(-1)
	_, err = call[SetRatesRequest, BillResponse](t, s, SetRatesProcedure, token, &SetRatesRequest{TaxRate: &neg})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	merchant := "Taco Town"
	status := models.BillStatusCompleted
	resp, err = call[UpdateMetadataRequest, BillResponse](t, s, UpdateMetadataProcedure, token,
		&UpdateMetadataRequest{MerchantName: &merchant, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "Taco Town", resp.Bill.Metadata.MerchantName)
	assert.Equal(t, models.BillStatusCompleted, resp.Bill.Metadata.Status)

	bogus := models.BillStatus("LOST")
	_, err = call[UpdateMetadataRequest, BillResponse](t, s, UpdateMetadataProcedure, token, &UpdateMetadataRequest{Status: &bogus})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSendMessage(t *testing.T) {
	s := setupTestServer(t, nil)
	token := startSession(t, s).Token
	addItem(t, s, token, "Nachos", "12")

	resp, err := call[SendMessageRequest, SendMessageResponse](t, s, SendMessageProcedure, token,
		&SendMessageRequest{Text: "Dhruv and Sarah shared the nachos"})
	require.NoError(t, err)

	assert.False(t, resp.Discarded)
	assert.Equal(t, "Updated: Dhruv -> Nachos, Sarah -> Nachos", resp.Reply.Text)
	require.Len(t, resp.Pairings, 2)
	assert.Len(t, resp.Bill.Users, 3)
	assert.Len(t, resp.Bill.Items[0].AssignedTo, 2)

	_, err = call[SendMessageRequest, SendMessageResponse](t, s, SendMessageProcedure, token, &SendMessageRequest{Text: " "})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestScanReceipt(t *testing.T) {
	receipt := &ai.Receipt{
		Items: []models.Item{
			{Name: "Tacos", Price: decimal.NewFromInt(9)},
			{Name: "Horchata", Price: decimal.NewFromInt(3)},
		},
		Metadata: models.BillMetadata{MerchantName: "Taco Town"},
	}
	s := setupTestServer(t, stubExtractor{receipt: receipt})
	token := startSession(t, s).Token

	_, err := call[ScanReceiptRequest, ScanReceiptResponse](t, s, ScanReceiptProcedure, token, &ScanReceiptRequest{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	scan, err := call[ScanReceiptRequest, ScanReceiptResponse](t, s, ScanReceiptProcedure, token,
		&ScanReceiptRequest{Image: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, session.MsgScanning, scan.Entry.Text)

	s.registry.Wait()

	resp, err := call[GetBillRequest, BillResponse](t, s, GetBillProcedure, token, &GetBillRequest{})
	require.NoError(t, err)
	assert.False(t, resp.Bill.Scanning)
	require.Len(t, resp.Bill.Items, 2)
	assert.Equal(t, "Taco Town", resp.Bill.Metadata.MerchantName)
	last := resp.Bill.Conversation[len(resp.Bill.Conversation)-1]
	assert.Equal(t, "Success! I found 2 items from Taco Town.", last.Text)
}

func TestSaveLoadDeleteHistory(t *testing.T) {
	s := setupTestServer(t, nil)
	token := startSession(t, s).Token

	addItem(t, s, token, "Nachos", "12")
	saved, err := call[SaveBillRequest, SaveBillResponse](t, s, SaveBillProcedure, token, &SaveBillRequest{})
	require.NoError(t, err)
	require.Len(t, saved.History, 1)
	assert.Equal(t, saved.SnapshotID, saved.History[0].ID)
	assert.Equal(t, 1, saved.History[0].ItemCount)

	reset, err := call[ResetBillRequest, BillResponse](t, s, ResetBillProcedure, token, &ResetBillRequest{})
	require.NoError(t, err)
	assert.Empty(t, reset.Bill.Items)

	loaded, err := call[LoadBillRequest, BillResponse](t, s, LoadBillProcedure, token, &LoadBillRequest{SnapshotID: saved.SnapshotID})
	require.NoError(t, err)
	require.Len(t, loaded.Bill.Items, 1)
	assert.Equal(t, "Nachos", loaded.Bill.Items[0].Name)

	list, err := call[ListHistoryRequest, ListHistoryResponse](t, s, ListHistoryProcedure, token, &ListHistoryRequest{})
	require.NoError(t, err)
	assert.Len(t, list.History, 1)

	left, err := call[DeleteBillRequest, ListHistoryResponse](t, s, DeleteBillProcedure, token, &DeleteBillRequest{SnapshotID: saved.SnapshotID})
	require.NoError(t, err)
	assert.Empty(t, left.History)

	_, err = call[LoadBillRequest, BillResponse](t, s, LoadBillProcedure, token, &LoadBillRequest{SnapshotID: saved.SnapshotID})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestGetSummary(t *testing.T) {
	s := setupTestServer(t, nil)
	token := startSession(t, s).Token
	addItem(t, s, token, "Nachos", "10")

	resp, err := call[GetSummaryRequest, GetSummaryResponse](t, s, GetSummaryProcedure, token, &GetSummaryRequest{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Total: $12.30")
	assert.Contains(t, resp.Text, "👤 Me: $12.30")
	assert.Contains(t, resp.Text, "Generated by SPLIT 🚀")

	euro := "€"
	_, err = call[SetRatesRequest, BillResponse](t, s, SetRatesProcedure, token, &SetRatesRequest{Currency: &euro})
	require.NoError(t, err)

	resp, err = call[GetSummaryRequest, GetSummaryResponse](t, s, GetSummaryProcedure, token, &GetSummaryRequest{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Total: €12.30")
	assert.Contains(t, resp.Text, "👤 Me: €12.30")

	blank := " "
	_, err = call[SetRatesRequest, BillResponse](t, s, SetRatesProcedure, token, &SetRatesRequest{Currency: &blank})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
