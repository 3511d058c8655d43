package sampler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint is one probe target
type Endpoint struct {
	Name   string
	URL    string
	Method string

	// HealthyStatus lists the status codes counted as success. Empty means {200}.
	HealthyStatus []int

	// Timeout overrides the sampler's probe timeout when positive
	Timeout time.Duration
}

// ID returns the identifier stored on samples
func (e Endpoint) ID() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}

// IsHealthy reports whether code counts as a successful probe
func (e Endpoint) IsHealthy(code int) bool {
	if len(e.HealthyStatus) == 0 {
		return code == http.StatusOK
	}
	for _, c := range e.HealthyStatus {
		if c == code {
			return true
		}
	}
	return false
}

// ResolveURL joins path onto baseURL unless rawURL is already absolute
func ResolveURL(baseURL, path, rawURL string) (string, error) {
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid endpoint url %q", rawURL)
		}
		return rawURL, nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("endpoint path %q requires api_base_url", path)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return "", fmt.Errorf("invalid api_base_url %q: %w", baseURL, err)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path, nil
}
