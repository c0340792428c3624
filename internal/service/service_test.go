package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

type stubRepo struct {
	createdOffer *model.Offer
	createErr    error

	cancelOfferID int64
	cancelWallet  string
	cancelErr     error

	user          *model.User
	userErr       error
	ensuredWallet string

	offer    *model.Offer
	offerErr error

	activeOffers []model.Offer

	shortfall    int64
	canCreateErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) EnsureUser(ctx context.Context, wallet string) (*model.User, error) {
	s.ensuredWallet = wallet
	return s.user, s.userErr
}

func (s *stubRepo) GetUserByWallet(ctx context.Context, wallet string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) RecordGeneration(ctx context.Context, wallet string, quantity int64, txHash string, blockNumber int64) error {
	return nil
}

func (s *stubRepo) CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error) {
	s.createdOffer = o
	if s.createErr != nil {
		return nil, s.createErr
	}
	return o, nil
}

func (s *stubRepo) CanCreateOffer(ctx context.Context, wallet string, quantity int64) (int64, error) {
	return s.shortfall, s.canCreateErr
}

func (s *stubRepo) CancelOffer(ctx context.Context, offerID int64, sellerWallet string) error {
	s.cancelOfferID = offerID
	s.cancelWallet = sellerWallet
	return s.cancelErr
}

func (s *stubRepo) GetOffer(ctx context.Context, offerID int64) (*model.Offer, error) {
	return s.offer, s.offerErr
}

func (s *stubRepo) ListActiveOffers(ctx context.Context) ([]model.Offer, error) {
	return s.activeOffers, nil
}

func (s *stubRepo) ListOffersBySeller(ctx context.Context, wallet string) ([]model.Offer, error) {
	return s.activeOffers, nil
}

func (s *stubRepo) GetMarketStats(ctx context.Context) (*model.MarketStats, error) {
	return &model.MarketStats{}, nil
}

func TestCreateOffer_ComputesTotals(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, 3*24*time.Hour)

	price := decimal.RequireFromString("0.001")
	priceVND := decimal.NewFromInt(2500)

	_, err := svc.CreateOffer(context.Background(), "0xAB", 7, 50, price, priceVND, "0xdead")
	if err != nil {
		t.Fatalf("CreateOffer error: %v", err)
	}

	o := repo.createdOffer
	if o == nil {
		t.Fatalf("offer was not passed to the repository")
	}
	if !o.TotalETH.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("TotalETH = %s, want 0.05", o.TotalETH)
	}
	if !o.TotalVND.Equal(decimal.NewFromInt(125000)) {
		t.Fatalf("TotalVND = %s, want 125000", o.TotalVND)
	}
	if o.SellerWallet != "0xab" {
		t.Fatalf("seller wallet not normalized: %q", o.SellerWallet)
	}
}

func TestCreateOffer_RejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(&stubRepo{}, 0)

	_, err := svc.CreateOffer(context.Background(), "0xab", 1, 0, decimal.Zero, decimal.Zero, "0x1")
	if !errors.Is(err, model.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCancelOffer_ConfirmationPhrase(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, 0)

	err := svc.CancelOffer(context.Background(), 5, "0xAB", "delete")
	if !errors.Is(err, model.ErrBadConfirmation) {
		t.Fatalf("expected ErrBadConfirmation, got %v", err)
	}
	if repo.cancelOfferID != 0 {
		t.Fatalf("cancel must not reach the repository on bad confirmation")
	}

	if err := svc.CancelOffer(context.Background(), 5, "0xAB", CancelConfirmationPhrase); err != nil {
		t.Fatalf("CancelOffer error: %v", err)
	}
	if repo.cancelOfferID != 5 {
		t.Fatalf("cancel offer id = %d, want 5", repo.cancelOfferID)
	}
	if repo.cancelWallet != "0xab" {
		t.Fatalf("cancel wallet not normalized: %q", repo.cancelWallet)
	}
}

func TestRegisterUser_NormalizesWallet(t *testing.T) {
	repo := &stubRepo{user: &model.User{
		WalletAddress:    "0xabc",
		AvailableBalance: 40,
	}}
	svc := NewService(repo, 72*time.Hour)

	stats, err := svc.RegisterUser(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if repo.ensuredWallet != "0xabc" {
		t.Fatalf("ensured wallet = %q, want %q", repo.ensuredWallet, "0xabc")
	}
	if stats.AvailableBalance != 40 {
		t.Fatalf("available balance = %d, want 40", stats.AvailableBalance)
	}
}

func TestRecordGeneration_RejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(&stubRepo{}, 0)

	err := svc.RecordGeneration(context.Background(), "0xab", -1, "0x1", 10)
	if !errors.Is(err, model.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestGetOffer_ViewCarriesDeletionCountdown(t *testing.T) {
	now := time.Now()
	repo := &stubRepo{
		offer: &model.Offer{
			OfferID:   9,
			Status:    model.OfferStatusExpired,
			UpdatedAt: now.Add(-24 * time.Hour),
		},
	}
	svc := NewService(repo, 3*24*time.Hour)

	view, err := svc.GetOffer(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetOffer error: %v", err)
	}
	if view.StatusLabel != "Expired" {
		t.Fatalf("status label = %q, want Expired", view.StatusLabel)
	}
	if view.DaysUntilDeletion == nil {
		t.Fatalf("expected a deletion countdown for an expired offer")
	}
	if *view.DaysUntilDeletion != 1 {
		t.Fatalf("days until deletion = %d, want 1", *view.DaysUntilDeletion)
	}
}

func TestGetOffer_ActiveHasNoCountdown(t *testing.T) {
	repo := &stubRepo{
		offer: &model.Offer{OfferID: 9, Status: model.OfferStatusActive},
	}
	svc := NewService(repo, 3*24*time.Hour)

	view, err := svc.GetOffer(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetOffer error: %v", err)
	}
	if view.DaysUntilDeletion != nil {
		t.Fatalf("active offer must not expose a deletion countdown")
	}
}
