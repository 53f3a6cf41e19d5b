// Package geo resolves a client IP address to a coarse human-readable
// location ("city, region, country") using an ipapi.co compatible service.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public lookup service.
const DefaultBaseURL = "https://ipapi.co"

// ErrUnresolvable is returned for addresses that have no public location,
// such as loopback or private ranges.
var ErrUnresolvable = errors.New("address has no public location")

// Locator looks up locations over HTTP.
type Locator struct {
	baseURL string
	client  *http.Client
}

// New creates a Locator. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, timeout time.Duration) *Locator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Locator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type lookupResponse struct {
	City        string `json:"city"`
	Region      string `json:"region"`
	CountryName string `json:"country_name"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// Locate returns "city, region, country" for ip.
func (l *Locator) Locate(ctx context.Context, ip string) (string, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return "", ErrUnresolvable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", l.baseURL, addr.String()), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo: lookup status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geo: decode: %w", err)
	}
	if body.Error {
		return "", fmt.Errorf("geo: %s", body.Reason)
	}
	if body.CountryName == "" {
		return "", ErrUnresolvable
	}
	return fmt.Sprintf("%s, %s, %s", body.City, body.Region, body.CountryName), nil
}
