// Package auth delegates credential verification to the external identity
// provider. The core never stores credentials; it only maps a token to a
// bidder identity for the lifetime of a connection.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/navyas1307/Auction-System/internal/model"
)

// ErrInvalidToken is returned when the provider rejects a credential.
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier checks a bearer token with the identity provider and returns the
// bidder it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.Bidder, error)
}

// HTTPVerifier calls an external verification endpoint. The endpoint
// receives the token as a bearer header and answers with the user's
// identity, the same contract the hosted auth service exposes.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPVerifier(endpoint string) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (model.Bidder, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return model.Bidder{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return model.Bidder{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return model.Bidder{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return model.Bidder{}, fmt.Errorf("verify token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			FullName string `json:"full_name"`
		} `json:"user_metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Bidder{}, fmt.Errorf("decode verify response: %w", err)
	}
	if body.ID == "" {
		return model.Bidder{}, ErrInvalidToken
	}

	name := body.Metadata.FullName
	if name == "" && body.Email != "" {
		name = strings.SplitN(body.Email, "@", 2)[0]
	}
	return model.Bidder{ID: body.ID, Name: name, Email: body.Email}, nil
}

// StaticVerifier maps fixed tokens to identities. For development and tests.
type StaticVerifier struct {
	Tokens map[string]model.Bidder
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (model.Bidder, error) {
	b, ok := v.Tokens[token]
	if !ok {
		return model.Bidder{}, ErrInvalidToken
	}
	return b, nil
}
