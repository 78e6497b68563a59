/**
 * @description
 * This package provides a client for the account factory. Claim-and-create
 * calls it to open the receiver account before any asset is transferred.
 */
package accountclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrAccountExists is returned when the factory refuses an account id that is
// already taken.
var ErrAccountExists = errors.New("account already exists")

// Client is a client for the account factory.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new account factory client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateAccountRequest defines the request payload for creating an account.
type CreateAccountRequest struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
}

// CreateAccountResponse defines the response from creating an account.
type CreateAccountResponse struct {
	AccountID string `json:"account_id"`
	Created   bool   `json:"created"`
}

// CreateAccount asks the factory to create newAccountID with publicKey as its
// first full-access key. A response that does not confirm creation is an error.
func (c *Client) CreateAccount(ctx context.Context, newAccountID, publicKey string) error {
	if c.baseURL == "" {
		return fmt.Errorf("account factory base url is empty")
	}

	url := fmt.Sprintf("%s/internal/accounts", c.baseURL)

	body, err := json.Marshal(CreateAccountRequest{AccountID: newAccountID, PublicKey: publicKey})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to account factory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%s: %w", newAccountID, ErrAccountExists)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("account factory returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var response CreateAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !response.Created {
		return fmt.Errorf("account factory did not create %s", newAccountID)
	}
	return nil
}
