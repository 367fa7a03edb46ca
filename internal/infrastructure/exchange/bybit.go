package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	// bybitCategory is used for every market/order/position call. It must be
	// a single category: positions are reconciled against GetPositions, which
	// only reports the category it is asked about.
	bybitCategory = "linear"

	// slippageBoundPct caps how far an IOC order may fill from the observed
	// price.
	slippageBoundPct = 1.0
)

// Bybit V5 retCodes for credential problems.
var authRetCodes = map[int]bool{
	10003: true, // invalid api key
	10004: true, // invalid signature
	10005: true, // permission denied
	33004: true, // api key expired
}

// BybitAdapter implements domain.Exchange against the Bybit V5 linear API,
// plus a public websocket stream for between-tick price updates.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	retry     RetryConfig
	logger    *zap.Logger

	mu        sync.Mutex
	wsConn    *websocket.Conn
	callbacks []func(symbol string, price float64)
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("bybit: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("bybit: %w: %s", domain.ErrAuthentication, string(respBody))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("bybit API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// checkRetCode maps Bybit application-level errors to the shared sentinels.
func checkRetCode(code int, msg string) error {
	switch {
	case code == 0:
		return nil
	case code == 10006 || code == 10018:
		return fmt.Errorf("bybit: %w: %s", domain.ErrRateLimited, msg)
	case authRetCodes[code]:
		return fmt.Errorf("bybit: %w: %s", domain.ErrAuthentication, msg)
	default:
		return fmt.Errorf("bybit error %d: %s", code, msg)
	}
}

func (b *BybitAdapter) GetPrice(ctx context.Context, asset string) (float64, error) {
	return retryDo(ctx, b.retry, b.logger, "get price", func() (float64, error) {
		path := "/v5/market/tickers?category=" + bybitCategory + "&symbol=" + asset
		resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return 0, err
		}

		var result struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				List []struct {
					LastPrice string `json:"lastPrice"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return 0, err
		}
		if err := checkRetCode(result.RetCode, result.RetMsg); err != nil {
			return 0, err
		}
		if len(result.Result.List) == 0 {
			return 0, fmt.Errorf("symbol %s not found", asset)
		}
		return strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
	})
}

func (b *BybitAdapter) GetBalance(ctx context.Context) (float64, error) {
	return retryDo(ctx, b.retry, b.logger, "get balance", func() (float64, error) {
		path := "/v5/account/wallet-balance?accountType=UNIFIED"
		resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return 0, err
		}

		var result struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				List []struct {
					TotalAvailableBalance string `json:"totalAvailableBalance"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return 0, err
		}
		if err := checkRetCode(result.RetCode, result.RetMsg); err != nil {
			return 0, err
		}
		if len(result.Result.List) == 0 {
			return 0, fmt.Errorf("no wallet returned")
		}
		return strconv.ParseFloat(result.Result.List[0].TotalAvailableBalance, 64)
	})
}

// PlaceMarketOrder submits an immediate-or-cancel limit order priced one
// slippage bound away from the current price, so a fill can never be worse
// than that bound. A timeout after submission is an ambiguous outcome: the
// order may or may not have filled, and the caller must reconcile.
func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, side domain.Side, notionalUSD float64, asset string) (*domain.Fill, error) {
	price, err := b.GetPrice(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("price for order sizing: %w", err)
	}

	var bybitSide string
	var limitPrice float64
	if side == domain.SideBuy {
		bybitSide = "Buy"
		limitPrice = price * (1 + slippageBoundPct/100)
	} else {
		bybitSide = "Sell"
		limitPrice = price * (1 - slippageBoundPct/100)
	}
	qty := notionalUSD / price

	payload := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      asset,
		"side":        bybitSide,
		"orderType":   "Limit",
		"qty":         strconv.FormatFloat(qty, 'f', 6, 64),
		"price":       strconv.FormatFloat(limitPrice, 'f', 8, 64),
		"timeInForce": "IOC",
	}

	return retryDo(ctx, b.retry, b.logger, "place order", func() (*domain.Fill, error) {
		resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", payload)
		if err != nil {
			if isTimeout(err) {
				return nil, &domain.OrderAmbiguousError{Asset: asset, Side: side, Cause: err}
			}
			return nil, err
		}

		var result struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				OrderID string `json:"orderId"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return nil, err
		}
		if err := checkRetCode(result.RetCode, result.RetMsg); err != nil {
			return nil, err
		}

		fill, err := b.fetchFill(ctx, asset, result.Result.OrderID)
		if err != nil {
			// Order accepted but outcome unknown.
			return nil, &domain.OrderAmbiguousError{Asset: asset, Side: side, Cause: err}
		}
		return fill, nil
	})
}

func (b *BybitAdapter) fetchFill(ctx context.Context, asset, orderID string) (*domain.Fill, error) {
	path := "/v5/order/realtime?category=" + bybitCategory + "&symbol=" + asset + "&orderId=" + orderID
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				AvgPrice   string `json:"avgPrice"`
				CumExecQty string `json:"cumExecQty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if err := checkRetCode(result.RetCode, result.RetMsg); err != nil {
		return nil, err
	}
	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	avgPrice, _ := strconv.ParseFloat(result.Result.List[0].AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(result.Result.List[0].CumExecQty, 64)
	if execQty == 0 {
		return nil, fmt.Errorf("order %s cancelled unfilled (IOC)", orderID)
	}
	return &domain.Fill{OrderID: orderID, Price: avgPrice, Size: execQty}, nil
}

func (b *BybitAdapter) GetPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	return retryDo(ctx, b.retry, b.logger, "get positions", func() ([]domain.ExchangePosition, error) {
		path := "/v5/position/list?category=" + bybitCategory + "&settleCoin=USDT"
		resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var result struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				List []struct {
					Symbol        string `json:"symbol"`
					Side          string `json:"side"`
					Size          string `json:"size"`
					AvgPrice      string `json:"avgPrice"`
					UnrealisedPnl string `json:"unrealisedPnl"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return nil, err
		}
		if err := checkRetCode(result.RetCode, result.RetMsg); err != nil {
			return nil, err
		}

		positions := make([]domain.ExchangePosition, 0, len(result.Result.List))
		for _, raw := range result.Result.List {
			size, _ := strconv.ParseFloat(raw.Size, 64)
			if size == 0 {
				continue
			}
			if raw.Side == "Sell" {
				size = -size
			}
			entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
			pnl, _ := strconv.ParseFloat(raw.UnrealisedPnl, 64)
			positions = append(positions, domain.ExchangePosition{
				Asset:         raw.Symbol,
				Size:          size,
				EntryPrice:    entry,
				UnrealizedPnL: pnl,
			})
		}
		return positions, nil
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// --- WebSocket ---

// OnPriceUpdate registers a callback invoked from the stream goroutine for
// every ticker message.
func (b *BybitAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return err
		}
		b.wsConn = c
		go b.readLoop(c)
	}
	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "tickers." + s
	}
	return b.wsConn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (b *BybitAdapter) CloseWS() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wsConn != nil {
		b.wsConn.Close()
		b.wsConn = nil
	}
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("websocket read failed, stream stopped", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			continue
		}
		price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
		if err != nil {
			continue
		}

		b.mu.Lock()
		callbacks := make([]func(string, float64), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Data.Symbol, price)
		}
	}
}
