package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// Compile-time interface check.
var _ Gateway = (*REST)(nil)

// ═══════════════════════════════════════════════════════════════════════════════
// REST BRIDGE - JSON client for a terminal bridge exposing the gateway contract
// ═══════════════════════════════════════════════════════════════════════════════
//
//   POST   /orders/market           OrderRequest        → {"ticket": n}
//   POST   /orders/limit            OrderRequest        → {"ticket": n}
//   DELETE /orders/{ticket}
//   PATCH  /positions/{ticket}      {"sl"?, "tp"?}
//   POST   /positions/{ticket}/close {"volume"?}        → {"realized_pnl": x}
//   GET    /positions  /orders  /account
//
// Requests are signed with HMAC-SHA256(secret, timestamp+method+path+body).
//
// ═══════════════════════════════════════════════════════════════════════════════

// REST is a Gateway over HTTP
type REST struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewREST creates a bridge client
func NewREST(baseURL, apiKey, apiSecret string, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &REST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
	log.Info().Str("url", c.baseURL).Msg("🚀 Broker bridge client initialized")
	return c
}

// Name returns "rest"
func (c *REST) Name() string { return "rest" }

type ticketResponse struct {
	Ticket int64 `json:"ticket"`
}

type modifyRequest struct {
	StopLoss   *decimal.Decimal `json:"sl,omitempty"`
	TakeProfit *decimal.Decimal `json:"tp,omitempty"`
}

type closeRequest struct {
	Volume *decimal.Decimal `json:"volume,omitempty"`
}

type closeResponse struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// CreateMarketOrder submits a market order
func (c *REST) CreateMarketOrder(ctx context.Context, req OrderRequest) (int64, error) {
	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/orders/market", req, &resp); err != nil {
		return 0, err
	}
	return resp.Ticket, nil
}

// CreateLimitOrder submits a limit order
func (c *REST) CreateLimitOrder(ctx context.Context, req OrderRequest) (int64, error) {
	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/orders/limit", req, &resp); err != nil {
		return 0, err
	}
	return resp.Ticket, nil
}

// ModifyPosition sends only the levels being changed
func (c *REST) ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	path := "/positions/" + strconv.FormatInt(ticket, 10)
	return c.do(ctx, http.MethodPatch, path, modifyRequest{StopLoss: sl, TakeProfit: tp}, nil)
}

// ClosePosition closes volume (nil = all)
func (c *REST) ClosePosition(ctx context.Context, ticket int64, volume *decimal.Decimal) (decimal.Decimal, error) {
	var resp closeResponse
	path := "/positions/" + strconv.FormatInt(ticket, 10) + "/close"
	if err := c.do(ctx, http.MethodPost, path, closeRequest{Volume: volume}, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.RealizedPnL, nil
}

// CancelOrder cancels a pending order
func (c *REST) CancelOrder(ctx context.Context, ticket int64) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+strconv.FormatInt(ticket, 10), nil, nil)
}

// GetOpenPositions lists open positions
func (c *REST) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	var out []types.Position
	err := c.do(ctx, http.MethodGet, "/positions", nil, &out)
	return out, err
}

// GetPendingOrders lists pending orders
func (c *REST) GetPendingOrders(ctx context.Context) ([]types.Order, error) {
	var out []types.Order
	err := c.do(ctx, http.MethodGet, "/orders", nil, &out)
	return out, err
}

// GetAccountInfo returns balance and equity
func (c *REST) GetAccountInfo(ctx context.Context) (types.AccountInfo, error) {
	var out types.AccountInfo
	err := c.do(ctx, http.MethodGet, "/account", nil, &out)
	return out, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *REST) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req, payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, types.ErrBrokerUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d %s: %w", resp.StatusCode, strings.TrimSpace(string(data)), types.ErrBrokerUnavailable)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *REST) addHeaders(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-TIMESTAMP", timestamp)
	if c.apiSecret != "" {
		req.Header.Set("X-SIGNATURE", sign(c.apiSecret, timestamp+req.Method+req.URL.Path+string(body)))
	}
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
