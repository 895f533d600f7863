package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eaglebank/transaction-service/shared/models"
)

// RemoteVerifier delegates verification to the auth service's verify endpoint.
type RemoteVerifier struct {
	baseURL    string
	httpClient *http.Client
}

var _ Verifier = (*RemoteVerifier)(nil)

type verifyResponse struct {
	Valid bool `json:"valid"`
	User  struct {
		UserID models.FlexibleID `json:"userId"`
		Email  string            `json:"email"`
	} `json:"user"`
}

func NewRemoteVerifier(baseURL string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/api/auth/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !body.Valid || body.User.UserID == "" {
		return nil, fmt.Errorf("%w: token rejected by auth service", ErrUnauthorized)
	}
	return &Identity{UserID: body.User.UserID.String(), Email: body.User.Email}, nil
}
