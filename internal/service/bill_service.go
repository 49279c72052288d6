package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitchat/internal/auth"
	"github.com/mmynk/splitchat/internal/history"
	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/middleware"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/internal/session"
)

// BillServiceName is the fully-qualified name of the bill service.
const BillServiceName = "splitchat.v1.BillService"

// Procedure paths.
const (
	StartSessionProcedure     = "/" + BillServiceName + "/StartSession"
	GetBillProcedure          = "/" + BillServiceName + "/GetBill"
	AddItemProcedure          = "/" + BillServiceName + "/AddItem"
	UpdateItemProcedure       = "/" + BillServiceName + "/UpdateItem"
	RemoveItemProcedure       = "/" + BillServiceName + "/RemoveItem"
	SetAssignmentProcedure    = "/" + BillServiceName + "/SetAssignment"
	ToggleAssignmentProcedure = "/" + BillServiceName + "/ToggleAssignment"
	AddUserProcedure          = "/" + BillServiceName + "/AddUser"
	RemoveUserProcedure       = "/" + BillServiceName + "/RemoveUser"
	UpdateUserProcedure       = "/" + BillServiceName + "/UpdateUser"
	SetRatesProcedure         = "/" + BillServiceName + "/SetRates"
	UpdateMetadataProcedure   = "/" + BillServiceName + "/UpdateMetadata"
	SendMessageProcedure      = "/" + BillServiceName + "/SendMessage"
	ScanReceiptProcedure      = "/" + BillServiceName + "/ScanReceipt"
	GetSummaryProcedure       = "/" + BillServiceName + "/GetSummary"
	SaveBillProcedure         = "/" + BillServiceName + "/SaveBill"
	LoadBillProcedure         = "/" + BillServiceName + "/LoadBill"
	DeleteBillProcedure       = "/" + BillServiceName + "/DeleteBill"
	ListHistoryProcedure      = "/" + BillServiceName + "/ListHistory"
	ResetBillProcedure        = "/" + BillServiceName + "/ResetBill"
)

// PublicProcedures can be called without a session token.
var PublicProcedures = []string{StartSessionProcedure}

// DefaultItemName names items added by hand without a name.
const DefaultItemName = "New Item"

// BillService implements the Connect BillService.
type BillService struct {
	registry *session.Registry
	tokens   *auth.JWTManager
	logger   *slog.Logger
}

// NewBillService creates a BillService backed by registry. Session tokens
// are issued by tokens.
func NewBillService(registry *session.Registry, tokens *auth.JWTManager, logger *slog.Logger) *BillService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillService{registry: registry, tokens: tokens, logger: logger}
}

// NewBillServiceHandler builds an HTTP handler serving every BillService
// procedure. It returns the path to mount the handler on.
func NewBillServiceHandler(svc *BillService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(GetBillProcedure, connect.NewUnaryHandler(GetBillProcedure, svc.GetBill, opts...))
	mux.Handle(AddItemProcedure, connect.NewUnaryHandler(AddItemProcedure, svc.AddItem, opts...))
	mux.Handle(UpdateItemProcedure, connect.NewUnaryHandler(UpdateItemProcedure, svc.UpdateItem, opts...))
	mux.Handle(RemoveItemProcedure, connect.NewUnaryHandler(RemoveItemProcedure, svc.RemoveItem, opts...))
	mux.Handle(SetAssignmentProcedure, connect.NewUnaryHandler(SetAssignmentProcedure, svc.SetAssignment, opts...))
	mux.Handle(ToggleAssignmentProcedure, connect.NewUnaryHandler(ToggleAssignmentProcedure, svc.ToggleAssignment, opts...))
	mux.Handle(AddUserProcedure, connect.NewUnaryHandler(AddUserProcedure, svc.AddUser, opts...))
	mux.Handle(RemoveUserProcedure, connect.NewUnaryHandler(RemoveUserProcedure, svc.RemoveUser, opts...))
	mux.Handle(UpdateUserProcedure, connect.NewUnaryHandler(UpdateUserProcedure, svc.UpdateUser, opts...))
	mux.Handle(SetRatesProcedure, connect.NewUnaryHandler(SetRatesProcedure, svc.SetRates, opts...))
	mux.Handle(UpdateMetadataProcedure, connect.NewUnaryHandler(UpdateMetadataProcedure, svc.UpdateMetadata, opts...))
	mux.Handle(SendMessageProcedure, connect.NewUnaryHandler(SendMessageProcedure, svc.SendMessage, opts...))
	mux.Handle(ScanReceiptProcedure, connect.NewUnaryHandler(ScanReceiptProcedure, svc.ScanReceipt, opts...))
	mux.Handle(GetSummaryProcedure, connect.NewUnaryHandler(GetSummaryProcedure, svc.GetSummary, opts...))
	mux.Handle(SaveBillProcedure, connect.NewUnaryHandler(SaveBillProcedure, svc.SaveBill, opts...))
	mux.Handle(LoadBillProcedure, connect.NewUnaryHandler(LoadBillProcedure, svc.LoadBill, opts...))
	mux.Handle(DeleteBillProcedure, connect.NewUnaryHandler(DeleteBillProcedure, svc.DeleteBill, opts...))
	mux.Handle(ListHistoryProcedure, connect.NewUnaryHandler(ListHistoryProcedure, svc.ListHistory, opts...))
	mux.Handle(ResetBillProcedure, connect.NewUnaryHandler(ResetBillProcedure, svc.ResetBill, opts...))

	return "/" + BillServiceName + "/", mux
}

// bill returns the live bill of the calling session.
func (s *BillService) bill(ctx context.Context) (*session.Bill, error) {
	sessionID := middleware.GetSessionID(ctx)
	if sessionID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	b, err := s.registry.Open(ctx, sessionID)
	if err != nil {
		s.logger.Error("failed to open session", "session_id", sessionID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to open session"))
	}
	return b, nil
}

// update applies fn to the caller's ledger and returns the new bill.
func (s *BillService) update(ctx context.Context, fn func(l *ledger.Ledger) error) (*connect.Response[BillResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	state, err := b.Update(fn)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&BillResponse{Bill: billFromState(state)}), nil
}

// toConnectError maps domain errors to Connect codes.
func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, ledger.ErrItemNotFound),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, history.ErrSnapshotNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, ledger.ErrEmptyName),
		errors.Is(err, session.ErrEmptyMessage):
		code = connect.CodeInvalidArgument
	case errors.Is(err, ledger.ErrDuplicateName):
		code = connect.CodeAlreadyExists
	case errors.Is(err, ledger.ErrPrimaryUser):
		code = connect.CodeFailedPrecondition
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

// StartSession opens a new bill and returns a token for it.
func (s *BillService) StartSession(ctx context.Context, req *connect.Request[StartSessionRequest]) (*connect.Response[StartSessionResponse], error) {
	b, err := s.registry.Create(ctx)
	if err != nil {
		s.logger.Error("StartSession failed", "error", err)
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to start session"))
	}

	token, expiresAt, err := s.tokens.Generate(b.ID())
	if err != nil {
		s.logger.Error("StartSession: failed to issue token", "session_id", b.ID(), "error", err)
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to issue token"))
	}

	s.logger.Info("Session started", "session_id", b.ID())
	return connect.NewResponse(&StartSessionResponse{
		SessionID: b.ID(),
		Token:     token,
		ExpiresAt: expiresAt,
		Bill:      billFromState(b.State()),
	}), nil
}

// GetBill returns the caller's live bill.
func (s *BillService) GetBill(ctx context.Context, req *connect.Request[GetBillRequest]) (*connect.Response[BillResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&BillResponse{Bill: billFromState(b.State())}), nil
}

// AddItem appends a hand-entered item.
func (s *BillService) AddItem(ctx context.Context, req *connect.Request[AddItemRequest]) (*connect.Response[AddItemResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		name = DefaultItemName
	}

	var item models.Item
	state, err := b.Update(func(l *ledger.Ledger) error {
		item = l.AddItem(models.Item{Name: name, Price: models.ParseAmount(req.Msg.Price)})
		return nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	s.logger.Debug("Item added", "session_id", b.ID(), "item_id", item.ID, "price", item.Price)
	return connect.NewResponse(&AddItemResponse{Item: item, Bill: billFromState(state)}), nil
}

// UpdateItem renames or reprices an item.
func (s *BillService) UpdateItem(ctx context.Context, req *connect.Request[UpdateItemRequest]) (*connect.Response[BillResponse], error) {
	patch := ledger.ItemPatch{Name: req.Msg.Name}
	if req.Msg.Price != nil {
		price := models.ParseAmount(*req.Msg.Price)
		patch.Price = &price
	}
	return s.update(ctx, func(l *ledger.Ledger) error {
		if !l.UpdateItem(req.Msg.ItemID, patch) {
			return ledger.ErrItemNotFound
		}
		return nil
	})
}

// RemoveItem deletes an item.
func (s *BillService) RemoveItem(ctx context.Context, req *connect.Request[RemoveItemRequest]) (*connect.Response[BillResponse], error) {
	return s.update(ctx, func(l *ledger.Ledger) error {
		if !l.RemoveItem(req.Msg.ItemID) {
			return ledger.ErrItemNotFound
		}
		return nil
	})
}

// SetAssignment replaces the set of users sharing an item.
func (s *BillService) SetAssignment(ctx context.Context, req *connect.Request[SetAssignmentRequest]) (*connect.Response[BillResponse], error) {
	return s.update(ctx, func(l *ledger.Ledger) error {
		return l.SetAssignment(req.Msg.ItemID, req.Msg.UserIDs)
	})
}

// ToggleAssignment flips one user's share of an item.
func (s *BillService) ToggleAssignment(ctx context.Context, req *connect.Request[ToggleAssignmentRequest]) (*connect.Response[BillResponse], error) {
	return s.update(ctx, func(l *ledger.Ledger) error {
		return l.ToggleAssignment(req.Msg.ItemID, req.Msg.UserID)
	})
}

// AddUser adds a participant, or returns the existing one with that name.
func (s *BillService) AddUser(ctx context.Context, req *connect.Request[AddUserRequest]) (*connect.Response[AddUserResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}

	var user models.User
	state, err := b.Update(func(l *ledger.Ledger) error {
		var addErr error
		user, addErr = l.AddUser(req.Msg.Name)
		return addErr
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AddUserResponse{User: user, Bill: billFromState(state)}), nil
}

// RemoveUser deletes a participant and their assignments.
func (s *BillService) RemoveUser(ctx context.Context, req *connect.Request[RemoveUserRequest]) (*connect.Response[BillResponse], error) {
	return s.update(ctx, func(l *ledger.Ledger) error {
		return l.RemoveUser(req.Msg.UserID)
	})
}

// UpdateUser renames or recolors a participant.
func (s *BillService) UpdateUser(ctx context.Context, req *connect.Request[UpdateUserRequest]) (*connect.Response[BillResponse], error) {
	return s.update(ctx, func(l *ledger.Ledger) error {
		return l.UpdateUser(req.Msg.UserID, ledger.UserPatch{Name: req.Msg.Name, Color: req.Msg.Color})
	})
}

// SetRates changes the tax and tip rates and the currency symbol. Omitted
// fields are left alone.
func (s *BillService) SetRates(ctx context.Context, req *connect.Request[SetRatesRequest]) (*connect.Response[BillResponse], error) {
	if r := req.Msg.TaxRate; r != nil && r.IsNegative() {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("tax rate must not be negative"))
	}
	if r := req.Msg.TipRate; r != nil && r.IsNegative() {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("tip rate must not be negative"))
	}
	var currency string
	if c := req.Msg.Currency; c != nil {
		currency = strings.TrimSpace(*c)
		if currency == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("currency must not be empty"))
		}
	}

	return s.update(ctx, func(l *ledger.Ledger) error {
		if req.Msg.TaxRate != nil {
			l.SetTaxRate(*req.Msg.TaxRate)
		}
		if req.Msg.TipRate != nil {
			l.SetTipRate(*req.Msg.TipRate)
		}
		if currency != "" {
			l.SetCurrency(currency)
		}
		return nil
	})
}

// UpdateMetadata edits the merchant, date, receipt number or status.
func (s *BillService) UpdateMetadata(ctx context.Context, req *connect.Request[UpdateMetadataRequest]) (*connect.Response[BillResponse], error) {
	if st := req.Msg.Status; st != nil && *st != models.BillStatusPending && *st != models.BillStatusCompleted {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown status %q", *st))
	}
	return s.update(ctx, func(l *ledger.Ledger) error {
		l.UpdateMetadata(ledger.MetadataPatch{
			MerchantName:  req.Msg.MerchantName,
			Date:          req.Msg.Date,
			ReceiptNumber: req.Msg.ReceiptNumber,
			Status:        req.Msg.Status,
		})
		return nil
	})
}

// SendMessage runs a chat command against the bill.
func (s *BillService) SendMessage(ctx context.Context, req *connect.Request[SendMessageRequest]) (*connect.Response[SendMessageResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := b.SendMessage(ctx, req.Msg.Text)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SendMessageResponse{
		Reply:     reply.Entry,
		Pairings:  reply.Pairings,
		Discarded: reply.Discarded,
		Bill:      billFromState(b.State()),
	}), nil
}

// ScanReceipt starts reading a receipt image. It returns as soon as the
// scan is under way; clients poll GetBill until Scanning is false.
func (s *BillService) ScanReceipt(ctx context.Context, req *connect.Request[ScanReceiptRequest]) (*connect.Response[ScanReceiptResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}

	entry := b.ScanReceipt(ctx, req.Msg.Image, req.Msg.MIMEType)
	s.logger.Info("Receipt scan started", "session_id", b.ID(), "bytes", len(req.Msg.Image), "mime_type", req.Msg.MIMEType)
	return connect.NewResponse(&ScanReceiptResponse{Entry: entry, Bill: billFromState(b.State())}), nil
}

// GetSummary returns the shareable text summary.
func (s *BillService) GetSummary(ctx context.Context, req *connect.Request[GetSummaryRequest]) (*connect.Response[GetSummaryResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetSummaryResponse{Text: b.Summary()}), nil
}

// SaveBill stores the live bill in history.
func (s *BillService) SaveBill(ctx context.Context, req *connect.Request[SaveBillRequest]) (*connect.Response[SaveBillResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := b.Save(ctx)
	if err != nil {
		s.logger.Error("SaveBill failed", "session_id", b.ID(), "error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SaveBillResponse{
		SnapshotID: snap.ID,
		History:    b.History(),
		Bill:       billFromState(b.State()),
	}), nil
}

// LoadBill replaces the live bill with a saved one.
func (s *BillService) LoadBill(ctx context.Context, req *connect.Request[LoadBillRequest]) (*connect.Response[BillResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	state, err := b.Load(req.Msg.SnapshotID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&BillResponse{Bill: billFromState(state)}), nil
}

// DeleteBill removes a saved bill and returns what is left.
func (s *BillService) DeleteBill(ctx context.Context, req *connect.Request[DeleteBillRequest]) (*connect.Response[ListHistoryResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.DeleteSaved(ctx, req.Msg.SnapshotID); err != nil {
		if !errors.Is(err, history.ErrSnapshotNotFound) {
			s.logger.Error("DeleteBill failed", "session_id", b.ID(), "snapshot_id", req.Msg.SnapshotID, "error", err)
		}
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListHistoryResponse{History: b.History()}), nil
}

// ListHistory lists saved bills, most recent first.
func (s *BillService) ListHistory(ctx context.Context, req *connect.Request[ListHistoryRequest]) (*connect.Response[ListHistoryResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListHistoryResponse{History: b.History()}), nil
}

// ResetBill starts over with an empty bill.
func (s *BillService) ResetBill(ctx context.Context, req *connect.Request[ResetBillRequest]) (*connect.Response[BillResponse], error) {
	b, err := s.bill(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&BillResponse{Bill: billFromState(b.Reset())}), nil
}
