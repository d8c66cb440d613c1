// Package linkstart calls the external verification backend to obtain a
// one-time verification URL for a member.
package linkstart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/quiethall/doorman/pkg/config"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Backend.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Backend.Timeout},
		log:     log,
	}
}

type startRequest struct {
	MemberID string `json:"member_id"`
	// Legacy field names still read by older backend deployments.
	DiscordID      string `json:"discord_id"`
	DiscordIDCamel string `json:"discordId"`
}

// startResponse tolerates every field name the backend has ever used for
// the verification URL.
type startResponse struct {
	URL             string `json:"url"`
	Link            string `json:"link"`
	VerificationURL string `json:"verificationUrl"`
	Data            string `json:"data"`
}

func (r *startResponse) url() string {
	for _, v := range []string{r.URL, r.Link, r.VerificationURL, r.Data} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Start requests a verification URL for the member.
func (c *Client) Start(ctx context.Context, memberID string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("verification backend not configured")
	}

	body, err := json.Marshal(startRequest{MemberID: memberID, DiscordID: memberID, DiscordIDCamel: memberID})
	if err != nil {
		return "", fmt.Errorf("failed to encode link start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/link/start", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build link start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("link start request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("link start returned status %d", res.StatusCode)
	}

	var parsed startResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode link start response: %w", err)
	}
	u := parsed.url()
	if u == "" {
		return "", fmt.Errorf("link start response missing verification url")
	}
	return u, nil
}
