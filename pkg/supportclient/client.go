/**
 * @description
 * This package provides a client for the support desk API, the external collaborator
 * that handles disputed group withdrawals. The workflow only needs one call: creating a
 * ticket and getting its id back before the dispute is recorded.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package supportclient

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

// Client is a client for the support desk API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new support desk API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createTicketRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			ReferenceID string `json:"reference_id"`
			Category    string `json:"category"`
			Reason      string `json:"reason"`
		} `json:"attributes"`
	} `json:"data"`
}

type createTicketResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CreateTicket opens a support ticket for a disputed group withdrawal and returns the
// ticket id. The call is synchronous: the dispute is only recorded once an id exists.
func (c *Client) CreateTicket(ctx context.Context, requestID, reason string) (string, error) {
	payload := createTicketRequest{}
	payload.Data.Type = "SupportTicket"
	payload.Data.Attributes.ReferenceID = requestID
	payload.Data.Attributes.Category = "group_withdrawal_dispute"
	payload.Data.Attributes.Reason = reason

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/tickets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-support-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("support desk request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("support desk returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed createTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode ticket response: %w", err)
	}
	if strings.TrimSpace(parsed.Data.ID) == "" {
		return "", fmt.Errorf("support desk response missing ticket id")
	}
	return parsed.Data.ID, nil
}
