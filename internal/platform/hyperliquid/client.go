// Package hyperliquid is the exchange gateway for Hyperliquid perpetuals:
// signed order placement and cancellation on /exchange, account and order
// queries on /info, and the candle WebSocket feed.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/winder87-stack/SuperSignal-sub000/internal/crypto"
	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const (
	MainnetURL = "https://api.hyperliquid.xyz"
	TestnetURL = "https://api.hyperliquid-testnet.xyz"

	infoRetries      = 3
	infoRetryBackoff = 500 * time.Millisecond
)

// Config configures the REST client.
type Config struct {
	BaseURL string
	// Vault trades on behalf of a vault or subaccount when set.
	Vault string
	// RequestsPerSecond and Burst throttle all REST calls.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client talks to the Hyperliquid REST API. Read-only use needs no signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	signer     *crypto.Signer
	vault      string
	logger     *slog.Logger

	assetsMu sync.RWMutex
	assets   map[string]asset

	lastNonce atomic.Int64
}

type asset struct {
	index int
	info  assetInfo
}

// NewClient creates a REST client. signer may be nil for read-only use.
func NewClient(cfg Config, signer *crypto.Signer, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		signer:     signer,
		vault:      cfg.Vault,
		logger:     logger.With(slog.String("component", "hyperliquid")),
	}
}

// IsMainnet reports whether baseURL points at mainnet.
func IsMainnet(baseURL string) bool {
	return !strings.Contains(baseURL, "testnet")
}

// info posts a read-only request, retrying on rate limiting.
func (c *Client) info(ctx context.Context, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < infoRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(infoRetryBackoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		raw, err := c.post(ctx, "/info", body)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				lastErr = err
				continue
			}
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode info response: %w", err)
		}
		return nil
	}
	return lastErr
}

// exchange signs and submits an action. It is never retried.
func (c *Client) exchange(ctx context.Context, action any) (exchangeResponse, error) {
	if c.signer == nil {
		return exchangeResponse{}, fmt.Errorf("%w: no signing key configured", domain.ErrSigningFailed)
	}
	nonce := c.nonce()
	sig, err := c.signer.SignAction(action, nonce, c.vault)
	if err != nil {
		return exchangeResponse{}, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}
	req := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != "" {
		v := strings.ToLower(c.vault)
		req.VaultAddress = &v
	}

	raw, err := c.post(ctx, "/exchange", req)
	if err != nil {
		return exchangeResponse{}, err
	}
	var resp exchangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return exchangeResponse{}, fmt.Errorf("decode exchange response: %w", err)
	}
	return resp, nil
}

// nonce returns a strictly increasing millisecond timestamp.
func (c *Client) nonce() int64 {
	for {
		now := time.Now().UnixMilli()
		last := c.lastNonce.Load()
		if now <= last {
			now = last + 1
		}
		if c.lastNonce.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
