// ABOUTME: Executor configuration as a closed sum type: Default or CustomURL.
// ABOUTME: Handles JSON encoding with a "type" discriminator and URL validation.

package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL indicates an executor URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid executor URL")

// ErrInvalidConfig indicates an executor config could not be decoded.
var ErrInvalidConfig = errors.New("invalid executor config")

const (
	typeDefault   = "default"
	typeCustomURL = "custom_url"
)

// Config selects the executor that runs a tool. It is either Default or
// CustomURL; a nil Config means Default.
type Config interface {
	executorType() string
}

// Default routes to the registry's shared sandbox.
type Default struct{}

func (Default) executorType() string { return typeDefault }

// MarshalJSON encodes {"type":"default"}.
func (Default) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"type": typeDefault})
}

// CustomURL routes to a user-operated executor. APIKey, when set, is sent
// as a bearer token.
type CustomURL struct {
	URL    string
	APIKey string
}

func (CustomURL) executorType() string { return typeCustomURL }

// MarshalJSON encodes {"type":"custom_url","url":...,"apiKey":...}.
func (c CustomURL) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireConfig{Type: typeCustomURL, URL: c.URL, APIKey: c.APIKey})
}

// Validate checks the URL.
func (c CustomURL) Validate() error {
	_, err := ValidateURL(c.URL)
	return err
}

type wireConfig struct {
	Type   string `json:"type"`
	URL    string `json:"url,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// ParseConfig decodes a stored executor config. Empty input yields Default.
// A custom_url config with an invalid URL is rejected.
func ParseConfig(raw []byte) (Config, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return Default{}, nil
	}
	var w wireConfig
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch w.Type {
	case "", typeDefault:
		return Default{}, nil
	case typeCustomURL:
		c := CustomURL{URL: w.URL, APIKey: w.APIKey}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, w.Type)
	}
}

// TypeName returns "default" or "custom" for logs and metrics.
func TypeName(cfg Config) string {
	if _, ok := cfg.(CustomURL); ok {
		return "custom"
	}
	return "default"
}

// ValidateURL parses raw and requires an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return u, nil
}
