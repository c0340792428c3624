package validation

import "testing"

func TestIsValidWalletAddress(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{
			name:  "valid lowercase",
			addr:  "0x1234567890abcdef1234567890abcdef12345678",
			valid: true,
		},
		{
			name:  "valid mixed case",
			addr:  "0x1234567890ABCDEF1234567890abcdef12345678",
			valid: true,
		},
		{
			name:  "missing prefix",
			addr:  "1234567890abcdef1234567890abcdef12345678",
			valid: false,
		},
		{
			name:  "too short",
			addr:  "0x1234",
			valid: false,
		},
		{
			name:  "non-hex characters",
			addr:  "0x1234567890abcdef1234567890abcdef1234567g",
			valid: false,
		},
		{
			name:  "empty string",
			addr:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidWalletAddress(tt.addr)
			if got != tt.valid {
				t.Fatalf("IsValidWalletAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
			}
		})
	}
}

func TestIsValidTxHash(t *testing.T) {
	tests := []struct {
		name  string
		hash  string
		valid bool
	}{
		{
			name:  "valid hash",
			hash:  "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12",
			valid: true,
		},
		{
			name:  "wallet-length hex",
			hash:  "0x1234567890abcdef1234567890abcdef12345678",
			valid: false,
		},
		{
			name:  "missing prefix",
			hash:  "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12",
			valid: false,
		},
		{
			name:  "empty string",
			hash:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidTxHash(tt.hash)
			if got != tt.valid {
				t.Fatalf("IsValidTxHash(%q) = %v, want %v", tt.hash, got, tt.valid)
			}
		})
	}
}
