// Package visitor captures a best-effort device/geo fingerprint once per
// assessment record. Collection must never fail the wizard: any piece that
// cannot be gathered is simply left empty.
package visitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/verdantiq/facility-assessment/internal/store"
)

// DefaultGeoEndpoint is the ipapi-style JSON endpoint queried for IP and
// location data.
const DefaultGeoEndpoint = "https://ipapi.co/json/"

// geoTimeout bounds the geo lookup so record creation is never blocked
// indefinitely on a slow network.
const geoTimeout = 3 * time.Second

// Collector gathers visitor metadata.
type Collector struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

// NewCollector creates a Collector. An empty endpoint disables the geo
// lookup (local fields are still captured).
func NewCollector(endpoint, userAgent string) *Collector {
	return &Collector{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: geoTimeout},
	}
}

// geoResponse matches the subset of the ipapi JSON payload we keep.
type geoResponse struct {
	IP          string `json:"ip"`
	CountryName string `json:"country_name"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
}

// Collect returns whatever metadata could be gathered. It never returns an
// error; partial failure yields partial data.
func (c *Collector) Collect(ctx context.Context) store.VisitorMeta {
	meta := store.VisitorMeta{
		SessionID: fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		Timezone:  time.Now().Location().String(),
		UserAgent: c.userAgent,
	}
	if host, err := os.Hostname(); err == nil {
		meta.Hostname = host
	}

	if c.endpoint == "" {
		return meta
	}

	geo, err := c.lookupGeo(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Geo lookup failed, continuing with local metadata only")
		return meta
	}

	meta.IPAddress = geo.IP
	meta.Country = geo.CountryName
	meta.Region = geo.Region
	meta.City = geo.City
	if geo.Timezone != "" {
		meta.Timezone = geo.Timezone
	}
	return meta
}

func (c *Collector) lookupGeo(ctx context.Context) (*geoResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, geoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo request: status %d", resp.StatusCode)
	}

	var geo geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	return &geo, nil
}
