// Package httpapi is the request/response surface for listing and creating
// auctions: thin plumbing around the coordinator and the durable store.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/archive"
	"github.com/navyas1307/Auction-System/internal/auction"
	"github.com/navyas1307/Auction-System/internal/auth"
	"github.com/navyas1307/Auction-System/internal/gateway"
	"github.com/navyas1307/Auction-System/internal/model"
)

const bidHistoryLimit = 20

type Handler struct {
	coord       *auction.Coordinator
	db          Database
	verifier    auth.Verifier
	ws          *gateway.Handler
	log         *slog.Logger
	allowOrigin string
}

// Database is the subset of the durable store the HTTP surface needs.
type Database interface {
	CreateAuction(ctx context.Context, a *model.Auction) error
	LoadAuction(ctx context.Context, id string) (*model.Auction, model.Status, error)
	BidHistory(ctx context.Context, auctionID string, limit int) ([]*model.Bid, error)
	AuctionsBySeller(ctx context.Context, sellerID string) ([]archive.AuctionRow, error)
	BidsByBidder(ctx context.Context, bidderID string, limit int) ([]archive.BidderBid, error)
}

func NewHandler(coord *auction.Coordinator, db Database, verifier auth.Verifier, ws *gateway.Handler, allowOrigin string, log *slog.Logger) *Handler {
	return &Handler{coord: coord, db: db, verifier: verifier, ws: ws, log: log, allowOrigin: allowOrigin}
}

func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.ws.ServeWS)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.requireAuth(h.createAuction)).Methods(http.MethodPost)
	api.HandleFunc("/auctions", h.optionalAuth(h.listActive)).Methods(http.MethodGet)
	api.HandleFunc("/my-auctions", h.requireAuth(h.myAuctions)).Methods(http.MethodGet)
	api.HandleFunc("/my-bids", h.requireAuth(h.myBids)).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}", h.optionalAuth(h.getAuction)).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/bids", h.bidHistory).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/end", h.requireAuth(h.endAuction)).Methods(http.MethodPost)

	// CORS wraps the router itself so preflight requests get answered even
	// when no route matches the OPTIONS method.
	return h.corsMiddleware(h.loggingMiddleware(r))
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type createAuctionRequest struct {
	ItemName      string          `json:"itemName"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	BidIncrement  decimal.Decimal `json:"bidIncrement"`
	Duration      int             `json:"duration"` // minutes
}

func (h *Handler) createAuction(w http.ResponseWriter, r *http.Request) {
	seller, _ := bidderFrom(r.Context())

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch {
	case req.ItemName == "":
		respondError(w, http.StatusBadRequest, "Item name is required")
		return
	case req.StartingPrice.IsNegative():
		respondError(w, http.StatusBadRequest, "Starting price cannot be negative")
		return
	case !req.BidIncrement.IsPositive():
		respondError(w, http.StatusBadRequest, "Bid increment must be positive")
		return
	case req.Duration <= 0:
		respondError(w, http.StatusBadRequest, "Duration must be positive")
		return
	}

	a := &model.Auction{
		ID:            uuid.New().String(),
		ItemName:      req.ItemName,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		BidIncrement:  req.BidIncrement,
		Duration:      time.Duration(req.Duration) * time.Minute,
		DurationMins:  req.Duration,
		SellerID:      seller.ID,
		SellerName:    seller.Name,
		SellerEmail:   seller.Email,
		StartTime:     time.Now().UTC(),
	}

	if err := h.db.CreateAuction(r.Context(), a); err != nil {
		h.log.Error("failed to persist auction", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create auction")
		return
	}
	if err := h.coord.Register(r.Context(), a); err != nil {
		h.log.Error("failed to register auction", "auction_id", a.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create auction")
		return
	}

	h.log.Info("auction created",
		"auction_id", a.ID,
		"item", a.ItemName,
		"duration_minutes", a.DurationMins,
		"seller", a.SellerName)
	respondJSON(w, http.StatusCreated, h.view(r, a, true))
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	live := h.coord.Active(r.Context())
	out := make([]*auctionView, 0, len(live))
	for _, a := range live {
		out = append(out, h.view(r, a, false))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) getAuction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if a, ok := h.coord.Lookup(id); ok {
		respondJSON(w, http.StatusOK, h.view(r, a, false))
		return
	}

	// Not registered: either finalized or unknown. The durable store has
	// the historical record.
	a, status, err := h.db.LoadAuction(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "Auction not found")
			return
		}
		h.log.Error("failed to load auction", "auction_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch auction")
		return
	}
	viewer, ok := bidderFrom(r.Context())
	respondJSON(w, http.StatusOK, h.archivedView(a, status, ok && viewer.ID == a.SellerID))
}

// myAuctions returns every listing the authenticated seller created: the
// live ones with their current highest-bid state, the finalized ones from
// the durable store.
func (h *Handler) myAuctions(w http.ResponseWriter, r *http.Request) {
	seller, _ := bidderFrom(r.Context())

	rows, err := h.db.AuctionsBySeller(r.Context(), seller.ID)
	if err != nil {
		h.log.Error("failed to load seller auctions", "seller_id", seller.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch auctions")
		return
	}

	out := make([]*auctionView, 0, len(rows))
	for _, row := range rows {
		if _, ok := h.coord.Lookup(row.Auction.ID); ok {
			out = append(out, h.view(r, row.Auction, true))
			continue
		}
		out = append(out, h.archivedView(row.Auction, row.Status, true))
	}
	respondJSON(w, http.StatusOK, out)
}

// myBidView is one entry of a bidder's own history. IsWinning means the bid
// still leads a live auction.
type myBidView struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	ItemName  string          `json:"itemName"`
	Amount    decimal.Decimal `json:"bidAmount"`
	BidTime   time.Time       `json:"bidTime"`
	Status    model.Status    `json:"auctionStatus"`
	IsWinning bool            `json:"isWinning"`
}

func (h *Handler) myBids(w http.ResponseWriter, r *http.Request) {
	viewer, _ := bidderFrom(r.Context())

	rows, err := h.db.BidsByBidder(r.Context(), viewer.ID, bidHistoryLimit)
	if err != nil {
		h.log.Error("failed to load bidder history", "bidder_id", viewer.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch bids")
		return
	}

	out := make([]myBidView, 0, len(rows))
	for _, row := range rows {
		v := myBidView{
			ID:        row.Bid.ID,
			AuctionID: row.Bid.AuctionID,
			ItemName:  row.ItemName,
			Amount:    row.Bid.Amount,
			BidTime:   row.Bid.BidTime,
			Status:    row.Status,
		}
		// Live state wins over the archived status, and decides whether
		// this bid still leads.
		if snap, err := h.coord.Snapshot(r.Context(), row.Bid.AuctionID); err == nil {
			v.Status = snap.Status
			v.IsWinning = snap.Status == model.StatusActive &&
				snap.BidderID == viewer.ID && snap.Amount.Equal(row.Bid.Amount)
		}
		out = append(out, v)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) bidHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	bids, err := h.db.BidHistory(r.Context(), id, bidHistoryLimit)
	if err != nil {
		h.log.Error("failed to load bid history", "auction_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch bids")
		return
	}
	if bids == nil {
		bids = []*model.Bid{}
	}
	respondJSON(w, http.StatusOK, bids)
}

func (h *Handler) endAuction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requester, _ := bidderFrom(r.Context())

	err := h.coord.EndAuction(r.Context(), id, requester)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Auction ended"})
	case errors.Is(err, auction.ErrForbidden):
		respondError(w, http.StatusForbidden, "You can only end your own auctions")
	case errors.Is(err, auction.ErrNotFound):
		respondError(w, http.StatusNotFound, "Auction not found")
	default:
		h.log.Error("failed to end auction", "auction_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to end auction")
	}
}

// auctionView is what listings return: the immutable description plus the
// live highest-bid state, with seller contact details withheld from
// non-owners.
type auctionView struct {
	ID                string          `json:"id"`
	ItemName          string          `json:"itemName"`
	Description       string          `json:"description,omitempty"`
	StartingPrice     decimal.Decimal `json:"startingPrice"`
	BidIncrement      decimal.Decimal `json:"bidIncrement"`
	Duration          int             `json:"duration"`
	SellerName        string          `json:"sellerName"`
	SellerEmail       string          `json:"sellerEmail,omitempty"`
	Status            model.Status    `json:"status"`
	StartTime         time.Time       `json:"startTime"`
	CurrentHighestBid decimal.Decimal `json:"currentHighestBid"`
	HighestBidder     string          `json:"highestBidder,omitempty"`
	TimeRemainingMs   int64           `json:"timeRemaining"`
	Sequence          int64           `json:"sequence"`
	IsOwner           bool            `json:"isOwner"`
}

func (h *Handler) view(r *http.Request, a *model.Auction, owned bool) *auctionView {
	v := &auctionView{
		ID:              a.ID,
		ItemName:        a.ItemName,
		Description:     a.Description,
		StartingPrice:   a.StartingPrice,
		BidIncrement:    a.BidIncrement,
		Duration:        a.DurationMins,
		SellerName:      a.SellerName,
		Status:          model.StatusActive,
		StartTime:       a.StartTime,
		TimeRemainingMs: a.TimeRemaining(time.Now()).Milliseconds(),
	}

	if snap, err := h.coord.Snapshot(r.Context(), a.ID); err == nil {
		v.Status = snap.Status
		v.CurrentHighestBid = snap.Amount
		v.Sequence = snap.Sequence
		if snap.HasLeader() {
			v.HighestBidder = snap.BidderName
		}
	} else {
		v.CurrentHighestBid = a.StartingPrice
	}

	viewer, authed := bidderFrom(r.Context())
	if owned || (authed && viewer.ID != "" && viewer.ID == a.SellerID) {
		v.SellerEmail = a.SellerEmail
		v.IsOwner = true
	}
	return v
}

// archivedView renders an auction no longer registered with the
// coordinator, from its durable row alone.
func (h *Handler) archivedView(a *model.Auction, status model.Status, owned bool) *auctionView {
	v := &auctionView{
		ID:            a.ID,
		ItemName:      a.ItemName,
		Description:   a.Description,
		StartingPrice: a.StartingPrice,
		BidIncrement:  a.BidIncrement,
		Duration:      a.DurationMins,
		SellerName:    a.SellerName,
		Status:        status,
		StartTime:     a.StartTime,
	}
	if owned {
		v.SellerEmail = a.SellerEmail
		v.IsOwner = true
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
