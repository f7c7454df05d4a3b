package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numisworks/coindex/internal/config"
)

func TestInitSources_Gating(t *testing.T) {
	cfg = &config.Config{}
	assert.Empty(t, initSources())

	cfg = &config.Config{
		Catalog: config.CatalogConfig{
			BaseURL:       "https://catalog.example",
			Key:           "k",
			RatePerSecond: 2,
			TimeoutSecs:   15,
		},
		Auction: config.AuctionConfig{
			BaseURL:       "https://auction.example",
			RatePerSecond: 1,
			TimeoutSecs:   20,
		},
	}
	sources := initSources()
	assert.Len(t, sources, 2)
	assert.Equal(t, "catalog", sources[0].Name())
	assert.Equal(t, "auction", sources[1].Name())
}

func TestHTTPClientTimeout(t *testing.T) {
	assert.Equal(t, "15s", httpClient(15).Timeout.String())
}
