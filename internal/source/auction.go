package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/resilience"
)

// AuctionClient fetches the most recent archived auction lot matching a
// coin. Lot descriptions come from cataloguers, so the record carries a
// per-field confidence below 1.0 for everything except the grade the
// house assigned itself.
type AuctionClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// AuctionOption configures the client.
type AuctionOption func(*AuctionClient)

// WithAuctionHTTPClient overrides the default http.Client.
func WithAuctionHTTPClient(hc *http.Client) AuctionOption {
	return func(c *AuctionClient) {
		c.http = hc
	}
}

// WithAuctionRate overrides the default request rate. Auction archives
// block aggressive clients, so the default is deliberately slow.
func WithAuctionRate(perSecond float64) AuctionOption {
	return func(c *AuctionClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewAuctionClient creates an auction-archive lookup source.
func NewAuctionClient(baseURL string, opts ...AuctionOption) *AuctionClient {
	c := &AuctionClient{
		name:    "auction",
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *AuctionClient) Name() string { return c.name }

// auctionLot is the wire format of a lot lookup response.
type auctionLot struct {
	LotID       string             `json:"lot_id"`
	Issuer      string             `json:"issuer"`
	Mint        string             `json:"mint"`
	YearStart   string             `json:"year_start"`
	YearEnd     string             `json:"year_end"`
	Grade       string             `json:"grade"`
	Weight      string             `json:"weight"`
	Diameter    string             `json:"diameter"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// Fetch queries the archive by issuer and date range.
func (c *AuctionClient) Fetch(ctx context.Context, coin *model.Coin) (*model.ExternalRecord, error) {
	issuer, ok := coin.Field(model.FieldIssuer)
	if !ok {
		return nil, eris.Wrap(ErrNotFound, "auction: coin has no issuer to query by")
	}

	q := url.Values{}
	q.Set("issuer", issuer)
	if y, ok := coin.Field(model.FieldYearStart); ok {
		q.Set("year", y)
	}
	q.Set("limit", "1")

	var lot auctionLot
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "auction: rate limit wait")
		}
		return c.get(ctx, "/lots?"+q.Encode(), &lot)
	})
	if err != nil {
		return nil, err
	}
	if lot.LotID == "" {
		return nil, eris.Wrap(ErrNotFound, "auction: empty result")
	}

	fields := make(map[model.FieldName]string)
	confidence := make(map[model.FieldName]float64)
	for field, value := range map[model.FieldName]string{
		model.FieldIssuer:    lot.Issuer,
		model.FieldMint:      lot.Mint,
		model.FieldYearStart: lot.YearStart,
		model.FieldYearEnd:   lot.YearEnd,
		model.FieldGrade:     lot.Grade,
		model.FieldWeight:    lot.Weight,
		model.FieldDiameter:  lot.Diameter,
	} {
		if value == "" {
			continue
		}
		fields[field] = value
		if conf, ok := lot.Confidences[string(field)]; ok {
			confidence[field] = conf
		}
	}

	return &model.ExternalRecord{
		Source:     c.name,
		CoinID:     coin.ID,
		Fields:     fields,
		Confidence: confidence,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (c *AuctionClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "auction: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "auction: execute request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return eris.Wrap(ErrNotFound, "auction")
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// 429 here means the host is throttling us specifically; treat it
		// as blocked rather than hammering with retries.
		return eris.Wrap(ErrBlocked, "auction")
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			fmt.Errorf("auction: status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return eris.Errorf("auction: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "auction: read body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "auction: decode response")
	}
	return nil
}
