package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialIssuer mints short-lived realtime transport credentials. With
// an upstream API key configured it exchanges the long-lived key for an
// ephemeral client secret; without one it issues local development tokens.
type CredentialIssuer struct {
	mintURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewCredentialIssuer(mintURL, apiKey, model string) *CredentialIssuer {
	return &CredentialIssuer{
		mintURL: mintURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CredentialIssuer) Issue() (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "ek_local_" + uuid.NewString(), nil
	}

	payload, err := json.Marshal(map[string]string{"model": c.model})
	if err != nil {
		return "", fmt.Errorf("encode mint request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.mintURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint credential: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("mint credential: status %d", resp.StatusCode)
	}

	var body struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode mint response: %w", err)
	}
	if body.ClientSecret.Value == "" {
		return "", fmt.Errorf("mint response missing client secret")
	}
	return body.ClientSecret.Value, nil
}
