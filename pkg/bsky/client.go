// Package bsky is a small read-only client for the Bluesky AppView.
//
// Only the lexicon queries the login and feed list flows need are wrapped:
// app.bsky.actor.getProfile, app.bsky.feed.getActorFeeds and
// app.bsky.feed.getFeedGenerators. Responses are decoded into local types
// so callers never depend on generated lexicon structs.
package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxFeedPages = 10

// ProfileView is an actor profile as returned by the AppView
type ProfileView struct {
	DID         string          `json:"did"`
	Handle      string          `json:"handle"`
	DisplayName string          `json:"displayName,omitempty"`
	Avatar      string          `json:"avatar,omitempty"`
	Associated  json.RawMessage `json:"associated,omitempty"`
	Labels      json.RawMessage `json:"labels,omitempty"`
}

// FeedView is a feed generator record owned by an actor
type FeedView struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Creator     struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	} `json:"creator"`
}

type actorFeedsOutput struct {
	Cursor *string    `json:"cursor,omitempty"`
	Feeds  []FeedView `json:"feeds"`
}

// Client queries the AppView over XRPC
type Client struct {
	xrpc *xrpc.Client
}

// NewClient creates a client for host (e.g. https://public.api.bsky.app).
// Outbound requests are traced through otelhttp.
func NewClient(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		xrpc: &xrpc.Client{
			Host: strings.TrimSuffix(host, "/"),
			Client: &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
		},
	}
}

// GetProfile fetches the profile for a DID or handle
func (c *Client) GetProfile(ctx context.Context, actor string) (*ProfileView, error) {
	if _, err := syntax.ParseAtIdentifier(actor); err != nil {
		return nil, fmt.Errorf("invalid actor %q: %w", actor, err)
	}

	var out ProfileView
	params := map[string]interface{}{"actor": actor}
	if err := c.xrpc.Do(ctx, xrpc.Query, "", "app.bsky.actor.getProfile", params, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get profile for %s: %w", actor, err)
	}
	if out.DID == "" {
		return nil, fmt.Errorf("profile for %s has no did", actor)
	}
	return &out, nil
}

// GetActorFeeds lists every feed generator the actor has published,
// following cursors up to a fixed page cap.
func (c *Client) GetActorFeeds(ctx context.Context, actor string) ([]FeedView, error) {
	if _, err := syntax.ParseAtIdentifier(actor); err != nil {
		return nil, fmt.Errorf("invalid actor %q: %w", actor, err)
	}

	var feeds []FeedView
	var cursor string
	for page := 0; page < maxFeedPages; page++ {
		params := map[string]interface{}{
			"actor": actor,
			"limit": 100,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var out actorFeedsOutput
		if err := c.xrpc.Do(ctx, xrpc.Query, "", "app.bsky.feed.getActorFeeds", params, nil, &out); err != nil {
			return nil, fmt.Errorf("failed to get feeds for %s: %w", actor, err)
		}
		feeds = append(feeds, out.Feeds...)

		if out.Cursor == nil || *out.Cursor == "" || len(out.Feeds) == 0 {
			break
		}
		cursor = *out.Cursor
	}
	return feeds, nil
}

// feedGeneratorBatch is the most URIs sent in one getFeedGenerators call
const feedGeneratorBatch = 25

type feedGeneratorsOutput struct {
	Feeds []FeedView `json:"feeds"`
}

// GetFeedGenerators returns metadata for the given feed URIs. Feeds the
// AppView does not know are absent from the result.
func (c *Client) GetFeedGenerators(ctx context.Context, uris []string) ([]FeedView, error) {
	var feeds []FeedView
	for start := 0; start < len(uris); start += feedGeneratorBatch {
		end := start + feedGeneratorBatch
		if end > len(uris) {
			end = len(uris)
		}

		var out feedGeneratorsOutput
		params := map[string]interface{}{"feeds": uris[start:end]}
		if err := c.xrpc.Do(ctx, xrpc.Query, "", "app.bsky.feed.getFeedGenerators", params, nil, &out); err != nil {
			return nil, fmt.Errorf("failed to get feed generators: %w", err)
		}
		feeds = append(feeds, out.Feeds...)
	}
	return feeds, nil
}
