package model

import (
	"testing"
	"time"
)

func TestTokenRecord_Active(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name string
		rec  TokenRecord
		want bool
	}{
		{"live", TokenRecord{ExpiresAt: now.Add(time.Minute)}, true},
		{"blacklisted", TokenRecord{ExpiresAt: now.Add(time.Minute), Blacklisted: true}, false},
		{"expired", TokenRecord{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", TokenRecord{ExpiresAt: now}, false},
	}
	for _, tc := range tests {
		if got := tc.rec.Active(now); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestTokenType(t *testing.T) {
	t.Parallel()

	if TokenAccess.Stored() {
		t.Fatalf("access tokens are never stored")
	}
	for _, typ := range []TokenType{TokenRefresh, TokenEmailVerification, TokenResetPassword} {
		if !typ.Valid() || !typ.Stored() {
			t.Fatalf("%s must be valid and stored", typ)
		}
	}
	if TokenType("bogus").Valid() {
		t.Fatalf("unknown type must be invalid")
	}
}
