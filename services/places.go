package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"idx-pipeline/utils"
)

// PlaceResult is what an external place lookup knows about an address.
type PlaceResult struct {
	FormattedAddress string   `json:"formatted_address"`
	PropertyType     string   `json:"property_type"`
	Price            int64    `json:"price"`
	Beds             int      `json:"beds"`
	Baths            float64  `json:"baths"`
	Sqft             int      `json:"sqft"`
	Photos           []string `json:"photos"`
}

// Usable reports whether the result carries a formatted address and at
// least one property attribute.
func (p *PlaceResult) Usable() bool {
	if p == nil || p.FormattedAddress == "" {
		return false
	}
	return p.Price > 0 || p.Beds > 0 || p.Sqft > 0 || len(p.Photos) > 0
}

// PlaceLookup resolves an address against an external service.
// A nil result with a nil error means the address is unknown.
type PlaceLookup interface {
	Lookup(ctx context.Context, address string) (*PlaceResult, error)
}

var errClientStatus = errors.New("places: client error")

// PlacesClient queries a JSON place endpoint:
// GET <base>?address=<address>&key=<key>.
type PlacesClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

func NewPlacesClient(baseURL, apiKey string, rps float64, retries int, logger *utils.Logger) *PlacesClient {
	if rps <= 0 {
		rps = 1
	}
	return &PlacesClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry: &utils.RetryConfig{
			MaxAttempts: retries,
			BaseDelay:   500 * time.Millisecond,
			Logger:      logger,
		},
		logger: logger,
	}
}

func (c *PlacesClient) Lookup(ctx context.Context, address string) (*PlaceResult, error) {
	q := url.Values{}
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + "?" + q.Encode()

	var (
		result   *PlaceResult
		fatalErr error
	)
	err := c.retry.Do(ctx, "place lookup", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			fatalErr = err
			return nil
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("places: status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			fatalErr = fmt.Errorf("%w: status %d", errClientStatus, resp.StatusCode)
			return nil
		}

		var p PlaceResult
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
			fatalErr = fmt.Errorf("places: decode: %w", err)
			return nil
		}
		result = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if fatalErr != nil {
		return nil, fatalErr
	}
	return result, nil
}
