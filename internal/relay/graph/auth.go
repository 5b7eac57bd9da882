package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
// This prevents using a token that is about to expire during a request.
const tokenExpiryBuffer = 5 * time.Minute

const defaultScope = "https://graph.microsoft.com/.default"

// credentials identify the app registration used for the client credentials grant.
type credentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
}

// accessToken is a bearer token and the moment it should stop being used.
type accessToken struct {
	value     string
	expiresAt time.Time
}

func (t accessToken) expired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// fetchToken acquires a new token from the OAuth2 token endpoint.
func fetchToken(ctx context.Context, client *http.Client, creds credentials) (accessToken, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.clientID},
		"client_secret": {creds.clientSecret},
		"scope":         {creds.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return accessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return accessToken{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return accessToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return accessToken{}, errors.New("token response missing access_token")
	}

	lifetime := time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpiryBuffer
	if lifetime < 0 {
		lifetime = 0
	}
	return accessToken{
		value:     tokenResp.AccessToken,
		expiresAt: time.Now().Add(lifetime),
	}, nil
}
