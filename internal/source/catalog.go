package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/resilience"
)

// CatalogClient looks coins up in a reference catalog API by their
// attribution. Responses carry authoritative issuer/mint/date/physical
// data with no per-field confidence.
type CatalogClient struct {
	name    string
	baseURL string
	key     string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// CatalogOption configures the client.
type CatalogOption func(*CatalogClient)

// WithCatalogHTTPClient overrides the default http.Client.
func WithCatalogHTTPClient(hc *http.Client) CatalogOption {
	return func(c *CatalogClient) {
		c.http = hc
	}
}

// WithCatalogRate overrides the default request rate.
func WithCatalogRate(perSecond float64) CatalogOption {
	return func(c *CatalogClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewCatalogClient creates a catalog lookup source.
func NewCatalogClient(baseURL, key string, opts ...CatalogOption) *CatalogClient {
	c := &CatalogClient{
		name:    "catalog",
		baseURL: baseURL,
		key:     key,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *CatalogClient) Name() string { return c.name }

// catalogType is the wire format of a catalog lookup response.
type catalogType struct {
	Issuer   string `json:"issuer"`
	Mint     string `json:"mint"`
	MinYear  *int   `json:"min_year"`
	MaxYear  *int   `json:"max_year"`
	Weight   string `json:"weight"`
	Diameter string `json:"diameter"`
}

// Fetch queries the catalog by the coin's attribution. A coin with no
// issuer cannot be looked up and reports ErrNotFound.
func (c *CatalogClient) Fetch(ctx context.Context, coin *model.Coin) (*model.ExternalRecord, error) {
	issuer, ok := coin.Field(model.FieldIssuer)
	if !ok {
		return nil, eris.Wrap(ErrNotFound, "catalog: coin has no issuer to query by")
	}

	q := url.Values{}
	q.Set("issuer", issuer)
	if mint, ok := coin.Field(model.FieldMint); ok {
		q.Set("mint", mint)
	}
	if y, ok := coin.Field(model.FieldYearStart); ok {
		q.Set("year", y)
	}

	var ct catalogType
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "catalog: rate limit wait")
		}
		return c.get(ctx, "/types?"+q.Encode(), &ct)
	})
	if err != nil {
		return nil, err
	}

	fields := make(map[model.FieldName]string)
	if ct.Issuer != "" {
		fields[model.FieldIssuer] = ct.Issuer
	}
	if ct.Mint != "" {
		fields[model.FieldMint] = ct.Mint
	}
	if ct.MinYear != nil {
		fields[model.FieldYearStart] = strconv.Itoa(*ct.MinYear)
	}
	if ct.MaxYear != nil {
		fields[model.FieldYearEnd] = strconv.Itoa(*ct.MaxYear)
	}
	if ct.Weight != "" {
		fields[model.FieldWeight] = ct.Weight
	}
	if ct.Diameter != "" {
		fields[model.FieldDiameter] = ct.Diameter
	}

	return &model.ExternalRecord{
		Source:     c.name,
		CoinID:     coin.ID,
		Fields:     fields,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func (c *CatalogClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "catalog: create request")
	}
	if c.key != "" {
		req.Header.Set("Numista-API-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "catalog: execute request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return eris.Wrap(ErrNotFound, "catalog")
	case resp.StatusCode == http.StatusForbidden:
		return eris.Wrap(ErrBlocked, "catalog")
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			fmt.Errorf("catalog: status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return eris.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "catalog: read body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "catalog: decode response")
	}
	return nil
}
