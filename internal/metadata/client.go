// Package metadata enriches catalog entities from The Movie Database. The
// client is optional: without an API key every lookup reports ErrDisabled and
// indexing proceeds with bare filesystem-derived entities.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mfranzen/videoforge/pkg/log"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

var ErrDisabled = errors.New("metadata lookups disabled: no API key")

// ErrNotFound is returned when the catalog identity matches nothing upstream.
var ErrNotFound = errors.New("no metadata match")

// MovieInfo is the enrichment payload for a movie identity.
type MovieInfo struct {
	Overview string
	Poster   string
}

// EpisodeInfo is the enrichment payload for an episode identity.
type EpisodeInfo struct {
	Title    string
	Overview string
	AirDate  string
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at a different API host. Used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// GetMovie resolves a (name, year) identity to its overview and poster.
func (c *Client) GetMovie(ctx context.Context, name string, year int) (*MovieInfo, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	query := url.Values{
		"api_key": {c.apiKey},
		"query":   {name},
		"year":    {strconv.Itoa(year)},
	}
	var result struct {
		Results []struct {
			Overview   string `json:"overview"`
			PosterPath string `json:"poster_path"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/search/movie", query, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("movie %s (%d): %w", name, year, ErrNotFound)
	}

	info := &MovieInfo{Overview: result.Results[0].Overview}
	if p := result.Results[0].PosterPath; p != "" {
		info.Poster = "https://image.tmdb.org/t/p/w500" + p
	}
	return info, nil
}

// GetEpisode resolves a (show, season, number) identity. The show name is
// matched first, then the episode is fetched directly.
func (c *Client) GetEpisode(ctx context.Context, show string, season, number int) (*EpisodeInfo, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	showID, err := c.findShow(ctx, show)
	if err != nil {
		return nil, err
	}

	var result struct {
		Name     string `json:"name"`
		Overview string `json:"overview"`
		AirDate  string `json:"air_date"`
	}
	path := fmt.Sprintf("/tv/%d/season/%d/episode/%d", showID, season, number)
	if err := c.get(ctx, path, url.Values{"api_key": {c.apiKey}}, &result); err != nil {
		return nil, err
	}
	return &EpisodeInfo{Title: result.Name, Overview: result.Overview, AirDate: result.AirDate}, nil
}

func (c *Client) findShow(ctx context.Context, name string) (int, error) {
	query := url.Values{
		"api_key": {c.apiKey},
		"query":   {name},
	}
	var result struct {
		Results []struct {
			ID int `json:"id"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/search/tv", query, &result); err != nil {
		return 0, err
	}
	if len(result.Results) == 0 {
		return 0, fmt.Errorf("show %s: %w", name, ErrNotFound)
	}
	return result.Results[0].ID, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
