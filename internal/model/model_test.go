package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OfferStatus
		to      OfferStatus
		allowed bool
	}{
		{"active to completed", OfferStatusActive, OfferStatusCompleted, true},
		{"active to cancelled", OfferStatusActive, OfferStatusCancelled, true},
		{"active to expired", OfferStatusActive, OfferStatusExpired, true},
		{"active to deleted", OfferStatusActive, OfferStatusDeleted, false},
		{"cancelled to deleted", OfferStatusCancelled, OfferStatusDeleted, true},
		{"expired to deleted", OfferStatusExpired, OfferStatusDeleted, true},
		{"completed is terminal", OfferStatusCompleted, OfferStatusDeleted, false},
		{"completed to cancelled", OfferStatusCompleted, OfferStatusCancelled, false},
		{"expired to completed", OfferStatusExpired, OfferStatusCompleted, false},
		{"cancelled to active", OfferStatusCancelled, OfferStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	if got := StatusLabel(OfferStatusCompleted); got != "Sold" {
		t.Fatalf("StatusLabel(COMPLETED) = %q, want Sold", got)
	}
	if got := StatusLabel(OfferStatus("BOGUS")); got != "Unknown" {
		t.Fatalf("StatusLabel(BOGUS) = %q, want Unknown", got)
	}
}

func TestDaysUntilDeletion(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	retention := 3 * 24 * time.Hour

	active := &Offer{Status: OfferStatusActive, UpdatedAt: now}
	if got := DaysUntilDeletion(active, retention, now); got != -1 {
		t.Fatalf("active offer: got %d, want -1", got)
	}

	fresh := &Offer{Status: OfferStatusExpired, UpdatedAt: now.Add(-24 * time.Hour)}
	if got := DaysUntilDeletion(fresh, retention, now); got != 2 {
		t.Fatalf("expired yesterday: got %d, want 2", got)
	}

	due := &Offer{Status: OfferStatusExpired, UpdatedAt: now.Add(-4 * 24 * time.Hour)}
	if got := DaysUntilDeletion(due, retention, now); got != 0 {
		t.Fatalf("overdue offer: got %d, want 0", got)
	}
}

func TestNormalizeWallet(t *testing.T) {
	got := NormalizeWallet("  0xABCDEF1234567890abcdef1234567890ABCDEF12 ")
	want := "0xabcdef1234567890abcdef1234567890abcdef12"
	if got != want {
		t.Fatalf("NormalizeWallet = %q, want %q", got, want)
	}
}
