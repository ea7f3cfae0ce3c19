package main

import (
	"path/filepath"
	"testing"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Setenv("TASKCTL_SESSION", filepath.Join(t.TempDir(), "nested", "session"))

	token, err := loadToken()
	if err != nil || token != "" {
		t.Fatalf("fresh session = %q, %v", token, err)
	}

	if err := saveToken("abc.def.ghi"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, err = loadToken()
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("loaded %q, %v", token, err)
	}

	if err := clearToken(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := clearToken(); err != nil {
		t.Fatalf("clearing twice should be fine: %v", err)
	}
	if token, _ := loadToken(); token != "" {
		t.Fatalf("token survived clear: %q", token)
	}
}
