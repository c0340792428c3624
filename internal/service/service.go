// Package service implements the business logic of the energy marketplace.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/validation"
)

// CancelConfirmationPhrase is the literal a seller must type to cancel an
// offer. Cancellation is an immediate permanent delete, so the request
// layer demands an explicit textual confirmation.
const CancelConfirmationPhrase = "DELETE"

// Repository describes the data-access contract used by the service.
type Repository interface {
	Close() error
	EnsureUser(ctx context.Context, wallet string) (*model.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (*model.User, error)
	RecordGeneration(ctx context.Context, wallet string, quantity int64, txHash string, blockNumber int64) error
	CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error)
	CanCreateOffer(ctx context.Context, wallet string, quantity int64) (int64, error)
	CancelOffer(ctx context.Context, offerID int64, sellerWallet string) error
	GetOffer(ctx context.Context, offerID int64) (*model.Offer, error)
	ListActiveOffers(ctx context.Context) ([]model.Offer, error)
	ListOffersBySeller(ctx context.Context, wallet string) ([]model.Offer, error)
	GetMarketStats(ctx context.Context) (*model.MarketStats, error)
}

// Service contains the marketplace business logic.
type Service struct {
	repo             Repository
	expiredRetention time.Duration
}

// NewService creates the service. The expired-offer retention window is
// only used here to compute the days-until-deletion read model.
func NewService(repo Repository, expiredRetention time.Duration) *Service {
	return &Service{
		repo:             repo,
		expiredRetention: expiredRetention,
	}
}

// Close releases the service's resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RecordGeneration credits a confirmed generation reading to the wallet's
// owner, creating the user on first reference.
func (s *Service) RecordGeneration(ctx context.Context, wallet string, quantity int64, txHash string, blockNumber int64) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}
	return s.repo.RecordGeneration(ctx, model.NormalizeWallet(wallet), quantity, txHash, blockNumber)
}

// CreateOffer lists a sell offer. The balance gate and the reservation run
// as one atomic unit inside the repository, under the seller's row lock.
func (s *Service) CreateOffer(ctx context.Context, sellerWallet string, offerID, quantity int64, priceETH, priceVND decimal.Decimal, txHash string) (*model.Offer, error) {
	if quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}

	o := &model.Offer{
		OfferID:       offerID,
		SellerWallet:  model.NormalizeWallet(sellerWallet),
		Quantity:      quantity,
		PriceETH:      priceETH,
		PriceVND:      priceVND,
		TotalETH:      priceETH.Mul(decimal.NewFromInt(quantity)),
		TotalVND:      priceVND.Mul(decimal.NewFromInt(quantity)),
		TxHashCreated: txHash,
	}
	return s.repo.CreateOffer(ctx, o)
}

// CanCreateOffer is the read-only pre-flight check; on rejection the
// returned shortfall tells the user how much balance they are missing.
func (s *Service) CanCreateOffer(ctx context.Context, wallet string, quantity int64) (int64, error) {
	return s.repo.CanCreateOffer(ctx, model.NormalizeWallet(wallet), quantity)
}

// CancelOffer cancels and immediately deletes the seller's active offer.
// The confirmation must equal CancelConfirmationPhrase; anything else is
// rejected without effect.
func (s *Service) CancelOffer(ctx context.Context, offerID int64, wallet, confirmation string) error {
	if confirmation != CancelConfirmationPhrase {
		return model.ErrBadConfirmation
	}
	return s.repo.CancelOffer(ctx, offerID, model.NormalizeWallet(wallet))
}

// OfferView is the read model exposed to the request layer.
type OfferView struct {
	OfferID           int64           `json:"offerId"`
	SellerWallet      string          `json:"sellerWallet"`
	BuyerWallet       *string         `json:"buyerWallet,omitempty"`
	Quantity          int64           `json:"quantity"`
	PriceETH          decimal.Decimal `json:"pricePerKWhETH"`
	PriceVND          decimal.Decimal `json:"pricePerKWhVND"`
	TotalETH          decimal.Decimal `json:"totalPriceETH"`
	TotalVND          decimal.Decimal `json:"totalPriceVND"`
	Status            string          `json:"status"`
	StatusLabel       string          `json:"statusLabel"`
	TxHashCreated     string          `json:"txHashCreated"`
	TxHashCompleted   *string         `json:"txHashCompleted,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	DaysUntilDeletion *int            `json:"daysUntilDeletion,omitempty"`
}

func (s *Service) toView(o *model.Offer, now time.Time) OfferView {
	v := OfferView{
		OfferID:         o.OfferID,
		SellerWallet:    o.SellerWallet,
		BuyerWallet:     o.BuyerWallet,
		Quantity:        o.Quantity,
		PriceETH:        o.PriceETH,
		PriceVND:        o.PriceVND,
		TotalETH:        o.TotalETH,
		TotalVND:        o.TotalVND,
		Status:          string(o.Status),
		StatusLabel:     model.StatusLabel(o.Status),
		TxHashCreated:   o.TxHashCreated,
		TxHashCompleted: o.TxHashCompleted,
		CreatedAt:       o.CreatedAt,
		CompletedAt:     o.CompletedAt,
	}
	if days := model.DaysUntilDeletion(o, s.expiredRetention, now); days >= 0 {
		v.DaysUntilDeletion = &days
	}
	return v
}

func (s *Service) toViews(offers []model.Offer) []OfferView {
	now := time.Now()
	views := make([]OfferView, 0, len(offers))
	for i := range offers {
		views = append(views, s.toView(&offers[i], now))
	}
	return views
}

// GetOffer returns one offer's read model.
func (s *Service) GetOffer(ctx context.Context, offerID int64) (*OfferView, error) {
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	v := s.toView(o, time.Now())
	return &v, nil
}

// ListActiveOffers returns the marketplace listing.
func (s *Service) ListActiveOffers(ctx context.Context) ([]OfferView, error) {
	offers, err := s.repo.ListActiveOffers(ctx)
	if err != nil {
		return nil, err
	}
	return s.toViews(offers), nil
}

// ListOffersBySeller returns a seller's remaining offers.
func (s *Service) ListOffersBySeller(ctx context.Context, wallet string) ([]OfferView, error) {
	offers, err := s.repo.ListOffersBySeller(ctx, model.NormalizeWallet(wallet))
	if err != nil {
		return nil, err
	}
	return s.toViews(offers), nil
}

// RegisterUser records a wallet on first connection and returns its
// stats. Registration is idempotent; a known wallet returns the existing
// counters untouched.
func (s *Service) RegisterUser(ctx context.Context, wallet string) (*model.UserStats, error) {
	u, err := s.repo.EnsureUser(ctx, model.NormalizeWallet(wallet))
	if err != nil {
		return nil, err
	}
	return userStats(u), nil
}

// GetUserStats returns a participant's balances and counters.
func (s *Service) GetUserStats(ctx context.Context, wallet string) (*model.UserStats, error) {
	u, err := s.repo.GetUserByWallet(ctx, model.NormalizeWallet(wallet))
	if err != nil {
		return nil, err
	}
	return userStats(u), nil
}

func userStats(u *model.User) *model.UserStats {
	return &model.UserStats{
		WalletAddress:    u.WalletAddress,
		Username:         u.Username,
		TotalGenerated:   u.TotalGenerated,
		TotalSold:        u.TotalSold,
		TotalBought:      u.TotalBought,
		AvailableBalance: u.AvailableBalance,
		TotalEarningsETH: u.TotalEarningsETH,
		TotalEarningsVND: u.TotalEarningsVND,
		Reputation:       u.Reputation,
	}
}

// GetMarketStats returns marketplace-wide aggregates.
func (s *Service) GetMarketStats(ctx context.Context) (*model.MarketStats, error) {
	return s.repo.GetMarketStats(ctx)
}

// ValidateWallet reports whether addr looks like a chain wallet address.
func ValidateWallet(addr string) bool {
	return validation.IsValidWalletAddress(model.NormalizeWallet(addr))
}

// ValidateTxHash reports whether hash looks like a chain transaction hash.
func ValidateTxHash(hash string) bool {
	return validation.IsValidTxHash(hash)
}
