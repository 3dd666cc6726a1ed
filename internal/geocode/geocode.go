// Package geocode resolves coordinates to a region and city.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/geo"
)

var ErrLookup = errors.New("reverse geocoding failed")

// Place is the administrative location of a coordinate.
type Place struct {
	Region string `json:"region"`
	City   string `json:"city"`
}

type Geocoder interface {
	Reverse(ctx context.Context, c geo.Coordinate) (Place, error)
}

type Options struct {
	BaseURL   string
	Language  string
	UserAgent string
	Timeout   time.Duration
}

// Nominatim queries an OpenStreetMap Nominatim server.
type Nominatim struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

func NewNominatim(opts Options, logger *zap.Logger) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if opts.Language == "" {
		opts.Language = "pt-BR"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "confesso/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Nominatim{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.Named("geocode"),
	}
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		State        string `json:"state"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
	} `json:"address"`
}

func (n *Nominatim) Reverse(ctx context.Context, c geo.Coordinate) (Place, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	q.Set("accept-language", n.opts.Language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.opts.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	req.Header.Set("User-Agent", n.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Place{}, fmt.Errorf("%w: status %d", ErrLookup, resp.StatusCode)
	}

	var data nominatimResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	if data.Error != "" {
		return Place{}, fmt.Errorf("%w: %s", ErrLookup, data.Error)
	}

	a := data.Address
	place := Place{Region: a.State, City: firstNonEmpty(a.City, a.Town, a.Village, a.Municipality)}
	n.logger.Debug("reverse geocoded", zap.Stringer("coordinate", c),
		zap.String("region", place.Region), zap.String("city", place.City))
	return place, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Coder maps region names to region codes.
type Coder interface {
	CodeFor(name string) string
}

// Normalized replaces the region name of every Place with its code.
type Normalized struct {
	next  Geocoder
	coder Coder
}

func Normalize(next Geocoder, coder Coder) *Normalized {
	return &Normalized{next: next, coder: coder}
}

func (n *Normalized) Reverse(ctx context.Context, c geo.Coordinate) (Place, error) {
	p, err := n.next.Reverse(ctx, c)
	if err != nil {
		return Place{}, err
	}
	p.Region = n.coder.CodeFor(p.Region)
	return p, nil
}
