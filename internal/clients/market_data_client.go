package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ArthurMTX/Portfolium-sub001/internal/config"
	"github.com/ArthurMTX/Portfolium-sub001/internal/models"
)

// MarketDataClient talks to the external price source. A missing price is a
// nil quote with a nil error: absence is normal (weekends, unlisted days)
// and the valuation builder carries prices forward.
type MarketDataClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retries     int
	retryDelay  time.Duration
}

func NewMarketDataClient(cfg config.MarketDataConfig) *MarketDataClient {
	perMinute := cfg.RateLimit
	if perMinute <= 0 {
		perMinute = 60
	}

	return &MarketDataClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		retries:     cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}
}

// GetPrice retrieves the price of a symbol for a calendar day. A zero asOf
// requests the latest price.
func (mdc *MarketDataClient) GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.PriceQuote, error) {
	url := fmt.Sprintf("%s/price/%s", mdc.baseURL, strings.ToUpper(symbol))
	if !asOf.IsZero() {
		url = fmt.Sprintf("%s?date=%s", url, asOf.Format("2006-01-02"))
	}

	var response struct {
		Data *models.PriceQuote `json:"data"`
	}

	found, err := mdc.makeRequest(ctx, url, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	if !found {
		return nil, nil
	}

	return response.Data, nil
}

// GetHistoricalPrices retrieves a symbol's daily closes for [from, to],
// ascending by date. Used for benchmark return series.
func (mdc *MarketDataClient) GetHistoricalPrices(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceQuote, error) {
	url := fmt.Sprintf("%s/historical/%s?from=%s&to=%s&interval=daily",
		mdc.baseURL,
		strings.ToUpper(symbol),
		from.Format("2006-01-02"),
		to.Format("2006-01-02"))

	var response struct {
		Data []models.PriceQuote `json:"data"`
	}

	found, err := mdc.makeRequest(ctx, url, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices for %s: %w", symbol, err)
	}
	if !found {
		return nil, nil
	}

	return response.Data, nil
}

// makeRequest performs a rate-limited GET with bounded retries. A 404 is
// "absent", not an error. The second return reports whether data was found.
func (mdc *MarketDataClient) makeRequest(ctx context.Context, url string, dest interface{}) (bool, error) {
	if err := mdc.rateLimiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= mdc.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(mdc.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		if mdc.apiKey != "" {
			req.Header.Set("X-API-Key", mdc.apiKey)
		}

		resp, err := mdc.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return false, nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			err := json.NewDecoder(resp.Body).Decode(dest)
			resp.Body.Close()
			if err != nil {
				return false, fmt.Errorf("failed to decode response: %w", err)
			}
			return true, nil
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}

	return false, lastErr
}
