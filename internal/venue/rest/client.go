// internal/venue/rest/client.go
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

const defaultTimeout = 30 * time.Second

// maxErrorDetail caps how much of an error body lands in error messages.
const maxErrorDetail = 512

func init() {
	venue.Register("rest", func(opts venue.Options, logger *zap.Logger) (venue.Venue, error) {
		return New(Config{
			BaseURL:    opts.BaseURL,
			PrivateKey: opts.PrivateKey,
			Timeout:    opts.RequestTimeout,
		}, logger)
	})
}

// Config for the avantis-service REST adapter.
type Config struct {
	// BaseURL of the avantis-service deployment, e.g. "http://localhost:8000".
	BaseURL string
	// PrivateKey signs write calls. Read calls query by trader address.
	PrivateKey string
	Timeout    time.Duration
}

// Client talks to an avantis-service deployment. The trader argument on
// reads is the wallet address positions are attributed to; writes are
// signed with the configured key, whose address must match.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a REST venue client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("venue base URL is required")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("venue private key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.PrivateKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("avantis_rest"),
	}, nil
}

// Name identifies the adapter.
func (c *Client) Name() string {
	return "avantis-rest"
}

// OpenPosition submits a market open for the pair.
func (c *Client) OpenPosition(ctx context.Context, trader string, req venue.OpenRequest) (venue.Receipt, error) {
	payload := openPositionRequest{
		Symbol:     venue.SymbolFor(req.PairIndex),
		Collateral: req.Collateral,
		Leverage:   req.Leverage,
		IsLong:     req.Side.IsLong(),
		PrivateKey: c.key,
	}
	if req.TakeProfit > 0 {
		tp := req.TakeProfit
		payload.TakeProfit = &tp
	}
	if req.StopLoss > 0 {
		sl := req.StopLoss
		payload.StopLoss = &sl
	}

	var out tradeResponse
	if err := c.post(ctx, "open_position", "/api/open-position", payload, &out); err != nil {
		return venue.Receipt{}, err
	}
	return venue.Receipt{TxRef: out.TxHash}, nil
}

// ClosePosition submits a market close for the pair.
func (c *Client) ClosePosition(ctx context.Context, trader string, pairIndex uint32) (venue.Receipt, error) {
	payload := closePositionRequest{
		PairIndex:  pairIndex,
		PrivateKey: c.key,
	}

	var out tradeResponse
	if err := c.post(ctx, "close_position", "/api/close-position", payload, &out); err != nil {
		return venue.Receipt{}, err
	}
	return venue.Receipt{TxRef: out.TxHash}, nil
}

// ListPositions fetches the trader's open positions.
func (c *Client) ListPositions(ctx context.Context, trader string) ([]venue.Position, error) {
	query := url.Values{"address": {trader}}

	var out positionsResponse
	if err := c.get(ctx, "list_positions", "/api/positions", query, &out); err != nil {
		return nil, err
	}

	positions := make([]venue.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		positions = append(positions, p.toPosition())
	}
	return positions, nil
}

// GetBalance fetches the trader's collateral balances.
func (c *Client) GetBalance(ctx context.Context, trader string) (venue.Balance, error) {
	query := url.Values{"address": {trader}}

	var out balanceResponse
	if err := c.get(ctx, "get_balance", "/api/balance", query, &out); err != nil {
		return venue.Balance{}, err
	}
	return out.toBalance(), nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return venue.NewError(venue.KindValidation, op, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return venue.NewError(venue.KindValidation, op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, op, out)
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return venue.NewError(venue.KindValidation, op, "failed to build request", err)
	}
	req.URL.RawQuery = query.Encode()

	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return venue.NewError(venue.KindTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.NewError(venue.KindTransient, op, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return c.apiError(op, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Warn("Malformed venue response",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return venue.NewError(venue.KindTransient, op, "malformed response body", err)
	}
	return nil
}

// apiError maps a non-200 response to the venue error taxonomy.
func (c *Client) apiError(op string, status int, body []byte) error {
	detail := string(body)
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		detail = envelope.Detail
	}
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail]
	}

	msg := fmt.Sprintf("venue returned %d: %s", status, detail)
	return venue.NewError(kindForStatus(status, detail), op, msg, nil)
}

func kindForStatus(status int, detail string) venue.Kind {
	lower := strings.ToLower(detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return venue.KindFatal
	case status == http.StatusPaymentRequired:
		return venue.KindInsufficientFunds
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return venue.KindTransient
	case strings.Contains(lower, "below_min_pos") || strings.Contains(lower, "below minimum") ||
		strings.Contains(lower, "minimum position"):
		return venue.KindBelowMinimum
	case strings.Contains(lower, "insufficient"):
		return venue.KindInsufficientFunds
	default:
		return venue.KindValidation
	}
}
