// Package brew looks up cask metadata from the public Homebrew formulae API.
// The results are used to prefill display metadata and to verify package
// downloads; nothing here talks to Intune.
package brew

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brewtune/brewtune/internal/common"
	"github.com/brewtune/brewtune/internal/logging"
)

const DefaultBaseURL = "https://formulae.brew.sh/api"

// Cask is the slice of the formulae.brew.sh cask document we care about.
type Cask struct {
	Token    string   `json:"token"`
	Names    []string `json:"name"`
	Version  string   `json:"version"`
	Desc     string   `json:"desc"`
	Homepage string   `json:"homepage"`
	URL      string   `json:"url"`
	SHA256   string   `json:"sha256"`
}

// DisplayName returns the first listed name, falling back to the token.
func (c *Cask) DisplayName() string {
	if len(c.Names) > 0 {
		return c.Names[0]
	}
	return c.Token
}

type Client struct {
	baseURL string
	hc      *http.Client
	log     logging.Logger
}

func NewClient(log logging.Logger) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Lookup fetches the cask document for token. A 404 maps to
// common.ErrorNotFound so callers can distinguish a typo from an outage.
func (c *Client) Lookup(ctx context.Context, token string) (*Cask, error) {
	url := fmt.Sprintf("%s/cask/%s.json", c.baseURL, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query cask %s: %w", token, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("cask %s: %w", token, common.ErrorNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cask %s: unexpected status %d", token, resp.StatusCode)
	}

	var cask Cask
	if err := json.NewDecoder(resp.Body).Decode(&cask); err != nil {
		return nil, fmt.Errorf("failed to decode cask %s: %w", token, err)
	}
	c.log.Debug(ctx, "cask resolved", "token", cask.Token, "version", cask.Version)
	return &cask, nil
}
