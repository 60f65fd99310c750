package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/reliability"
)

// Authenticator exchanges one GET against the credential endpoint for a
// short-lived transport token. No retry and no caching; callers own retry
// policy, and every connect attempt fetches a fresh credential.
type Authenticator struct {
	url    string
	client *http.Client
}

func NewAuthenticator(url string) *Authenticator {
	return &Authenticator{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Authenticator) FetchCredential(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return "", &AuthFetchError{Err: fmt.Errorf("build credential request: %w", err)}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Network-level failures are transient as far as the caller can
		// tell.
		return "", &AuthFetchError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthFetchError{
			Status:    resp.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
		}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthFetchError{Err: fmt.Errorf("decode credential response: %w", err)}
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		return "", &AuthFetchError{Err: fmt.Errorf("credential response missing token")}
	}
	return token, nil
}
