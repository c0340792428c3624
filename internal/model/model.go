// Package model contains the domain entities of the energy marketplace.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a marketplace participant identified by a wallet address.
// Users are created on first reference and never hard-deleted.
type User struct {
	ID            int64
	WalletAddress string
	Username      *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	TotalGenerated   int64
	TotalSold        int64
	TotalBought      int64
	AvailableBalance int64
	TotalEarningsETH decimal.Decimal
	TotalEarningsVND decimal.Decimal
	Reputation       int32
}

// OfferStatus describes the lifecycle state of an offer.
type OfferStatus string

const (
	OfferStatusActive    OfferStatus = "ACTIVE"
	OfferStatusCompleted OfferStatus = "COMPLETED"
	OfferStatusCancelled OfferStatus = "CANCELLED"
	OfferStatusExpired   OfferStatus = "EXPIRED"
	// OfferStatusDeleted is never stored: a deleted offer is a removed row.
	// It exists so transitions into deletion go through the same state check.
	OfferStatusDeleted OfferStatus = "DELETED"
)

// CanTransition reports whether the offer lifecycle permits moving
// from one status to another. Completed offers are terminal and are
// kept for history; cancelled and expired offers may only be purged.
func CanTransition(from, to OfferStatus) bool {
	switch from {
	case OfferStatusActive:
		return to == OfferStatusCompleted || to == OfferStatusCancelled || to == OfferStatusExpired
	case OfferStatusCancelled, OfferStatusExpired:
		return to == OfferStatusDeleted
	default:
		return false
	}
}

// Offer describes a sell listing. OfferID mirrors the on-chain sequence
// and is authoritative; Quantity and the prices are fixed at creation.
type Offer struct {
	OfferID      int64
	SellerID     int64
	SellerWallet string
	BuyerID      *int64
	BuyerWallet  *string

	Quantity int64
	PriceETH decimal.Decimal
	PriceVND decimal.Decimal
	TotalETH decimal.Decimal
	TotalVND decimal.Decimal

	Status          OfferStatus
	TxHashCreated   string
	TxHashCompleted *string

	CreatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// GenerationEvent records a confirmed on-chain energy generation reading.
type GenerationEvent struct {
	ID          int64
	UserID      int64
	Quantity    int64
	TxHash      string
	BlockNumber int64
	RecordedAt  time.Time
}

// UserStats is the read model exposed for a single participant.
type UserStats struct {
	WalletAddress    string          `json:"walletAddress"`
	Username         *string         `json:"username,omitempty"`
	TotalGenerated   int64           `json:"totalEnergyGenerated"`
	TotalSold        int64           `json:"totalEnergySold"`
	TotalBought      int64           `json:"totalEnergyBought"`
	AvailableBalance int64           `json:"availableEnergyBalance"`
	TotalEarningsETH decimal.Decimal `json:"totalEarningsETH"`
	TotalEarningsVND decimal.Decimal `json:"totalEarningsVND"`
	Reputation       int32           `json:"reputationScore"`
}

// MarketStats aggregates marketplace-wide figures for display.
type MarketStats struct {
	ActiveOffers    int64 `json:"activeOffers"`
	ListedQuantity  int64 `json:"listedQuantity"`
	CompletedTrades int64 `json:"completedTrades"`
	TradedQuantity  int64 `json:"tradedQuantity"`
}

// StatusLabel returns the human-readable label shown next to an offer.
func StatusLabel(s OfferStatus) string {
	switch s {
	case OfferStatusActive:
		return "Active"
	case OfferStatusCompleted:
		return "Sold"
	case OfferStatusCancelled:
		return "Cancelled"
	case OfferStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// DaysUntilDeletion reports how many whole days remain before an expired
// offer is purged, given the retention window. Returns 0 for offers that
// are already due and -1 for offers the sweep never deletes.
func DaysUntilDeletion(o *Offer, retention time.Duration, now time.Time) int {
	if o.Status != OfferStatusExpired {
		return -1
	}
	deadline := o.UpdatedAt.Add(retention)
	if !deadline.After(now) {
		return 0
	}
	return int(deadline.Sub(now).Hours() / 24)
}

// NormalizeWallet lowercases a wallet address so lookups are case-insensitive.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
