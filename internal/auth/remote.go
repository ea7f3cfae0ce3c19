package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MemberLoginPath is the api route that exchanges a secret number for a session.
const MemberLoginPath = "/auth/member-login"

// RemoteMemberLogin calls the api server's member login endpoint, for clients
// that cannot look up secret numbers themselves.
type RemoteMemberLogin struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteMemberLogin(baseURL string) *RemoteMemberLogin {
	return &RemoteMemberLogin{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type memberLoginRequest struct {
	SecretNumber string `json:"secret_number"`
}

func (r *RemoteMemberLogin) LoginMember(ctx context.Context, secret string) (Session, error) {
	body, err := json.Marshal(memberLoginRequest{SecretNumber: secret})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+MemberLoginPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("member login unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnauthorized:
		return Session{}, ErrMemberNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("member login failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return Session{}, fmt.Errorf("decode member login response: %w", err)
	}
	if sess.Token == "" || sess.Identity.ID == "" {
		return Session{}, fmt.Errorf("member login response missing session")
	}
	return sess, nil
}
