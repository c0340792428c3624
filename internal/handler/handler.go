// Package handler contains the HTTP handlers of the marketplace API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/service"
)

// Service defines the business-logic contract used by the HTTP handlers.
type Service interface {
	RecordGeneration(ctx context.Context, wallet string, quantity int64, txHash string, blockNumber int64) error
	CreateOffer(ctx context.Context, sellerWallet string, offerID, quantity int64, priceETH, priceVND decimal.Decimal, txHash string) (*model.Offer, error)
	CanCreateOffer(ctx context.Context, wallet string, quantity int64) (int64, error)
	CancelOffer(ctx context.Context, offerID int64, wallet, confirmation string) error
	GetOffer(ctx context.Context, offerID int64) (*service.OfferView, error)
	ListActiveOffers(ctx context.Context) ([]service.OfferView, error)
	ListOffersBySeller(ctx context.Context, wallet string) ([]service.OfferView, error)
	RegisterUser(ctx context.Context, wallet string) (*model.UserStats, error)
	GetUserStats(ctx context.Context, wallet string) (*model.UserStats, error)
	GetMarketStats(ctx context.Context) (*model.MarketStats, error)
}

// Handler implements the HTTP handlers of the marketplace API.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Shortfall *int64 `json:"shortfall,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP statuses; the shortfall of a
// rejected offer is included so the UI can show a precise message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var insufficient *model.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		h.writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     insufficient.Error(),
			Shortfall: &insufficient.Shortfall,
		})
		return
	}

	switch {
	case errors.Is(err, model.ErrInvalidQuantity), errors.Is(err, model.ErrBadConfirmation):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrInsufficientBalance):
		h.writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrInvalidStateTransition),
		errors.Is(err, model.ErrDuplicateTransaction),
		errors.Is(err, model.ErrNotOfferOwner),
		errors.Is(err, model.ErrConsistencyFault):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

type generationRequest struct {
	WalletAddress string `json:"walletAddress"`
	Quantity      int64  `json:"quantity"`
	TxHash        string `json:"txHash"`
	BlockNumber   int64  `json:"blockNumber"`
}

// RecordGeneration credits a confirmed energy generation reading.
func (h *Handler) RecordGeneration(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !service.ValidateWallet(req.WalletAddress) || !service.ValidateTxHash(req.TxHash) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RecordGeneration(r.Context(), req.WalletAddress, req.Quantity, req.TxHash, req.BlockNumber); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type createOfferRequest struct {
	SellerWallet string          `json:"sellerWallet"`
	OfferID      int64           `json:"offerId"`
	Quantity     int64           `json:"quantity"`
	PriceETH     decimal.Decimal `json:"priceETH"`
	PriceVND     decimal.Decimal `json:"priceVND"`
	TxHash       string          `json:"txHash"`
}

// CreateOffer lists a sell offer after its creation transaction was
// submitted on-chain.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !service.ValidateWallet(req.SellerWallet) || !service.ValidateTxHash(req.TxHash) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.OfferID <= 0 || req.PriceETH.IsNegative() || req.PriceVND.IsNegative() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	offer, err := h.service.CreateOffer(r.Context(), req.SellerWallet, req.OfferID, req.Quantity, req.PriceETH, req.PriceVND, req.TxHash)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.service.GetOffer(r.Context(), offer.OfferID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

type validateOfferRequest struct {
	WalletAddress string `json:"walletAddress"`
	Quantity      int64  `json:"quantity"`
}

type validateOfferResponse struct {
	Allowed   bool  `json:"allowed"`
	Shortfall int64 `json:"shortfall"`
}

// ValidateOffer is the pre-flight balance check used by the UI before a
// chain transaction is attempted.
func (h *Handler) ValidateOffer(w http.ResponseWriter, r *http.Request) {
	var req validateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !service.ValidateWallet(req.WalletAddress) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	shortfall, err := h.service.CanCreateOffer(r.Context(), req.WalletAddress, req.Quantity)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientBalance) {
			h.writeJSON(w, http.StatusOK, validateOfferResponse{Allowed: false, Shortfall: shortfall})
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, validateOfferResponse{Allowed: true})
}

type cancelOfferRequest struct {
	WalletAddress string `json:"walletAddress"`
	Confirmation  string `json:"confirmation"`
}

// CancelOffer cancels and immediately deletes the caller's active offer.
func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.ParseInt(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req cancelOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !service.ValidateWallet(req.WalletAddress) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelOffer(r.Context(), offerID, req.WalletAddress, req.Confirmation); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetOffer returns one offer.
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.ParseInt(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	view, err := h.service.GetOffer(r.Context(), offerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ListOffers returns the active marketplace listing.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.ListActiveOffers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(offers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, offers)
}

// GetUserOffers returns a seller's remaining offers.
func (h *Handler) GetUserOffers(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !service.ValidateWallet(wallet) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	offers, err := h.service.ListOffersBySeller(r.Context(), wallet)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(offers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, offers)
}

type registerUserRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// RegisterUser records a wallet on first connection. Re-registering a
// known wallet returns its existing counters.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !service.ValidateWallet(req.WalletAddress) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.RegisterUser(r.Context(), req.WalletAddress)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// GetUserStats returns a participant's balances and counters.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !service.ValidateWallet(wallet) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.GetUserStats(r.Context(), wallet)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetMarketStats returns marketplace-wide aggregates.
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetMarketStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}
