package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"too short", "12345", ErrWeakPassword},
		{"too long", strings.Repeat("x", maxPasswordLen+1), ErrLongPassword},
		{"ok", "hunter22", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hashPassword(tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}
			if hash == tt.password || !passwordMatches(hash, tt.password) {
				t.Fatal("hash does not verify")
			}
			if passwordMatches(hash, "hunter23") {
				t.Fatal("wrong password matched")
			}
		})
	}

	if passwordMatches("", "") {
		t.Fatal("empty hash must never match")
	}
}
