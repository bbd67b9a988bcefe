// Package ledger posts completed contributions to the external accounting
// service. Recording is best-effort: the executor treats failures here as
// log-worthy, never as investment failures.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	log     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	if timeout > 0 {
		rc.HTTPClient.Timeout = timeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    rc,
		log:     log,
	}
}

type contributionRecord struct {
	UserAddress string `json:"user_address"`
	PoolID      string `json:"pool_id"`
	AmountWei   string `json:"amount_wei"`
	TxHash      string `json:"tx_hash"`
}

// RecordContribution reports one confirmed on-chain contribution.
func (c *Client) RecordContribution(ctx context.Context, userAddress, poolID, amountWei, txHash string) error {
	if c == nil {
		return fmt.Errorf("ledger client not configured")
	}
	body, err := json.Marshal(contributionRecord{
		UserAddress: userAddress,
		PoolID:      poolID,
		AmountWei:   amountWei,
		TxHash:      txHash,
	})
	if err != nil {
		return fmt.Errorf("encode contribution: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/contributions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build contribution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post contribution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
