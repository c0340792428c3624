// Package validation contains input validation helpers.
package validation

import "strings"

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsValidWalletAddress checks that a string is a 0x-prefixed 20-byte hex address.
func IsValidWalletAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	body := addr[2:]
	return len(body) == 40 && isHex(body)
}

// IsValidTxHash checks that a string is a 0x-prefixed 32-byte hex transaction hash.
func IsValidTxHash(hash string) bool {
	if !strings.HasPrefix(hash, "0x") {
		return false
	}
	body := hash[2:]
	return len(body) == 64 && isHex(body)
}
