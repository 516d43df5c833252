package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"golang.org/x/oauth2"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/kv"
)

var (
	// ErrUnknownState is returned for a callback whose state was never
	// issued, was already used, or has expired
	ErrUnknownState = errors.New("unknown or expired oauth state")
	// ErrNoSession is returned when no stored session exists for a DID
	ErrNoSession = errors.New("no oauth session")
)

// Config configures the OAuth client
type Config struct {
	// ClientID is the URL of the client metadata document
	ClientID    string
	RedirectURL string
	AuthURL     string
	TokenURL    string
	Scopes      []string
	// StateTTL bounds how long a started login may take
	StateTTL time.Duration
}

// ConfigFromPublicURL derives the client id and redirect URL from the
// API's public base URL
func ConfigFromPublicURL(publicURL, authURL, tokenURL string, scopes []string, stateTTL time.Duration) Config {
	return Config{
		ClientID:    publicURL + "/oauth/client-metadata.json",
		RedirectURL: publicURL + "/auth/callback",
		AuthURL:     authURL,
		TokenURL:    tokenURL,
		Scopes:      scopes,
		StateTTL:    stateTTL,
	}
}

// pendingAuth is what a started login leaves in the state store
type pendingAuth struct {
	Verifier  string    `json:"verifier"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a token set obtained for a user
type Session struct {
	DID          string    `json:"did"`
	Handle       string    `json:"handle,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Client runs the authorization code flow. It is safe for concurrent use.
type Client struct {
	config   Config
	oauth2   *oauth2.Config
	states   kv.Store
	sessions kv.Store
	mu       sync.Mutex
	now      func() time.Time
}

// NewClient creates an OAuth client over the given state and session stores
func NewClient(config Config, states, sessions kv.Store) *Client {
	if config.StateTTL <= 0 {
		config.StateTTL = 10 * time.Minute
	}
	return &Client{
		config: config,
		oauth2: &oauth2.Config{
			ClientID: config.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: config.RedirectURL,
			Scopes:      config.Scopes,
		},
		states:   states,
		sessions: sessions,
		now:      time.Now,
	}
}

// AuthorizeURL starts a login for handle and returns the URL the user
// must visit
func (c *Client) AuthorizeURL(ctx context.Context, handle string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}

	pending := pendingAuth{
		Verifier:  oauth2.GenerateVerifier(),
		Handle:    handle,
		CreatedAt: c.now().UTC(),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("failed to encode oauth state: %w", err)
	}

	c.mu.Lock()
	err = c.states.Set(ctx, state, string(data))
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to save oauth state: %w", err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(pending.Verifier)}
	if handle != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", handle))
	}
	return c.oauth2.AuthCodeURL(state, opts...), nil
}

// Callback completes a login from the provider's redirect parameters. The
// state is consumed whether or not the exchange succeeds.
func (c *Client) Callback(ctx context.Context, params url.Values) (*Session, error) {
	if e := params.Get("error"); e != "" {
		if desc := params.Get("error_description"); desc != "" {
			return nil, fmt.Errorf("authorization failed: %s: %s", e, desc)
		}
		return nil, fmt.Errorf("authorization failed: %s", e)
	}

	state, code := params.Get("state"), params.Get("code")
	if state == "" || code == "" {
		return nil, errors.New("missing state or code")
	}

	pending, err := c.consumeState(ctx, state)
	if err != nil {
		return nil, err
	}

	token, err := c.oauth2.Exchange(ctx, code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	sub, _ := token.Extra("sub").(string)
	did, err := syntax.ParseDID(sub)
	if err != nil {
		return nil, fmt.Errorf("token response has no valid sub: %w", err)
	}
	scope, _ := token.Extra("scope").(string)

	session := &Session{
		DID:          did.String(),
		Handle:       pending.Handle,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        scope,
		Expiry:       token.Expiry,
	}
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) consumeState(ctx context.Context, state string) (*pendingAuth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.states.Get(ctx, state)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrUnknownState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth state: %w", err)
	}
	if err := c.states.Del(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to delete oauth state: %w", err)
	}

	var pending pendingAuth
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	if c.now().Sub(pending.CreatedAt) > c.config.StateTTL {
		return nil, ErrUnknownState
	}
	return &pending, nil
}

func (c *Client) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode oauth session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sessions.Set(ctx, session.DID, string(data)); err != nil {
		return fmt.Errorf("failed to save oauth session: %w", err)
	}
	return nil
}

// Session returns the stored token set for did
func (c *Client) Session(ctx context.Context, did string) (*Session, error) {
	c.mu.Lock()
	data, err := c.sessions.Get(ctx, did)
	c.mu.Unlock()
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode oauth session: %w", err)
	}
	return &session, nil
}

// Revoke deletes the stored token set for did
func (c *Client) Revoke(ctx context.Context, did string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sessions.Del(ctx, did); err != nil {
		return fmt.Errorf("failed to delete oauth session: %w", err)
	}
	return nil
}

// ClientMetadata is the atproto OAuth client metadata document
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scope                   string   `json:"scope"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ApplicationType         string   `json:"application_type"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
}

// Metadata returns the client metadata document served at ClientID
func (c *Client) Metadata(clientName, clientURI string) ClientMetadata {
	return ClientMetadata{
		ClientID:                c.config.ClientID,
		ClientName:              clientName,
		ClientURI:               clientURI,
		RedirectURIs:            []string{c.config.RedirectURL},
		Scope:                   strings.Join(c.config.Scopes, " "),
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ApplicationType:         "web",
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
	}
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
