package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// IdentityClaim is a verified external identity. How the handshake produced
// the token is the provider's concern; the claim is all the app consumes.
type IdentityClaim struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
}

// IdentityVerifier turns a provider-issued credential into a verified claim.
type IdentityVerifier interface {
	Verify(ctx context.Context, provider, credential string) (IdentityClaim, error)
}

// GoogleVerifier validates Google ID tokens via the tokeninfo endpoint.
type GoogleVerifier struct {
	clientID   string
	baseURL    string
	httpClient *http.Client
}

// NewGoogleVerifier builds a verifier bound to the app's OAuth client id.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		clientID:   strings.TrimSpace(clientID),
		baseURL:    googleTokenInfoURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenInfoResponse struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Aud     string `json:"aud"`
	Expires string `json:"exp"`
}

// Verify checks the ID token with Google and returns the verified claim.
func (v *GoogleVerifier) Verify(ctx context.Context, provider, credential string) (IdentityClaim, error) {
	if provider != "google" {
		return IdentityClaim{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	endpoint := v.baseURL + "?id_token=" + url.QueryEscape(credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return IdentityClaim{}, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return IdentityClaim{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return IdentityClaim{}, fmt.Errorf("token rejected: %s", resp.Status)
	}
	var info tokenInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return IdentityClaim{}, err
	}
	if info.Sub == "" {
		return IdentityClaim{}, fmt.Errorf("token missing subject")
	}
	if v.clientID != "" && info.Aud != v.clientID {
		return IdentityClaim{}, fmt.Errorf("token audience mismatch")
	}
	return IdentityClaim{
		Provider:   "google",
		ProviderID: info.Sub,
		Email:      strings.ToLower(strings.TrimSpace(info.Email)),
		Name:       info.Name,
	}, nil
}
