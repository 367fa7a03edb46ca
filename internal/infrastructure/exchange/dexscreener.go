package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arlov/crypto_trade_bot/internal/domain"
	"go.uber.org/zap"
)

const DexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreenerClient implements domain.TokenInfoProvider against the public
// DexScreener pair API. No authentication; rate limits surface as
// ErrRateLimited and go through the slow retry ladder.
type DexScreenerClient struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
	logger  *zap.Logger
}

func NewDexScreenerClient(baseURL string, logger *zap.Logger) *DexScreenerClient {
	if baseURL == "" {
		baseURL = DexScreenerBaseURL
	}
	return &DexScreenerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
}

func (d *DexScreenerClient) GetTokenInfo(ctx context.Context, asset string) (*domain.TokenInfo, error) {
	return retryDo(ctx, d.retry, d.logger, "get token info", func() (*domain.TokenInfo, error) {
		url := d.baseURL + "/latest/dex/tokens/" + asset
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("dexscreener: %w", domain.ErrRateLimited)
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("dexscreener error (%d): %s", resp.StatusCode, string(body))
		}

		var result struct {
			Pairs []struct {
				Liquidity struct {
					USD float64 `json:"usd"`
				} `json:"liquidity"`
				FDV float64 `json:"fdv"`
			} `json:"pairs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		if len(result.Pairs) == 0 {
			// No pair at all reads as zero liquidity, which the dead-token
			// check treats as dead.
			return &domain.TokenInfo{}, nil
		}

		// Use the deepest pair.
		best := result.Pairs[0]
		for _, p := range result.Pairs[1:] {
			if p.Liquidity.USD > best.Liquidity.USD {
				best = p
			}
		}
		return &domain.TokenInfo{
			LiquidityUSD: best.Liquidity.USD,
			FDVUSD:       best.FDV,
		}, nil
	})
}
