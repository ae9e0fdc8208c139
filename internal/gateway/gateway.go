// Package gateway talks to the scoring backend and classifies its failures
// into the tabulation error taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request. Zero leaves failure detection to the
// transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding body: %w", op, err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "op", op, "error", err)
		return &tabulation.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &tabulation.TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
		return nil
	}
	return classify(op, resp)
}

func classify(op string, resp *http.Response) error {
	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &tabulation.ValidationError{Msg: eb.Error}
	case http.StatusUnauthorized:
		return &tabulation.AuthorizationError{Reason: tabulation.AuthSession, Msg: eb.Error}
	case http.StatusForbidden:
		return &tabulation.AuthorizationError{Reason: tabulation.AuthForbidden, Msg: eb.Error}
	case http.StatusNotFound:
		return &tabulation.NotFoundError{Msg: eb.Error}
	case http.StatusConflict:
		return &tabulation.AlreadyLockedError{Msg: eb.Error}
	}
	return &tabulation.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(eb.Error)}
}

// FetchOrCreate returns a fresh tabulation or the one this referee already
// started for the same team and match. Incomplete selections never leave
// the client.
func (c *Client) FetchOrCreate(ctx context.Context, sel tabulation.Selection) (tabulation.Tabulation, error) {
	if err := sel.Validate(); err != nil {
		return tabulation.Tabulation{}, err
	}
	path := fmt.Sprintf("/tabulation/new/%s/%s/%s/%s",
		url.PathEscape(sel.EventTeamID),
		url.PathEscape(string(sel.Match)),
		url.PathEscape(sel.TableID),
		url.PathEscape(sel.RefereeID),
	)
	var tab tabulation.Tabulation
	if err := c.do(ctx, "fetch tabulation", http.MethodGet, path, nil, &tab); err != nil {
		return tabulation.Tabulation{}, err
	}
	return tab, nil
}

// SaveProgress patches in-progress scoring. Repeating a call with the same
// state leaves the server unchanged.
func (c *Client) SaveProgress(ctx context.Context, id string, p tabulation.Progress) error {
	if id == "" {
		return &tabulation.ValidationError{Field: "id", Msg: "tabulation has no id"}
	}
	return c.do(ctx, "save progress", http.MethodPatch, "/tabulation/"+url.PathEscape(id), p, nil)
}

type verifyRequest struct {
	RefCode string `json:"refCode"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyRefCode asks the server whether code belongs to the tabulation's
// referee. A transport failure yields (false, *TransportError): validity unknown.
func (c *Client) VerifyRefCode(ctx context.Context, id, code string) (bool, error) {
	var resp verifyResponse
	err := c.do(ctx, "verify referee code", http.MethodPost,
		"/tabulation/"+url.PathEscape(id)+"/verify-ref-code",
		verifyRequest{RefCode: tabulation.NormalizeRefCode(code)}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Commit submits the final tabulation and returns the server's copy.
func (c *Client) Commit(ctx context.Context, id string, form tabulation.CommitForm) (tabulation.Tabulation, error) {
	var tab tabulation.Tabulation
	err := c.do(ctx, "commit tabulation", http.MethodPost,
		"/tabulation/"+url.PathEscape(id)+"/commit", form, &tab)
	return tab, err
}

// UnscoredMatches lists the matches a team has no submitted tabulation for.
func (c *Client) UnscoredMatches(ctx context.Context, eventTeamID string) ([]tabulation.MatchKind, error) {
	var raw []string
	err := c.do(ctx, "unscored matches", http.MethodGet,
		"/tabulation/"+url.PathEscape(eventTeamID)+"/unscored-matches", nil, &raw)
	if err != nil {
		return nil, err
	}
	matches := make([]tabulation.MatchKind, 0, len(raw))
	for _, s := range raw {
		k, err := tabulation.ParseMatchKind(s)
		if err != nil {
			c.logger.Warn("skipping unknown match", "match", s)
			continue
		}
		matches = append(matches, k)
	}
	return matches, nil
}

// CheckConnectivity reports whether the API answers with a usable season list.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	var seasons []tabulation.SeasonInfo
	if err := c.do(ctx, "connectivity probe", http.MethodGet, "/public/seasons", nil, &seasons); err != nil {
		return false
	}
	return len(seasons) > 0 && seasons[0].ID != ""
}

func (c *Client) Me(ctx context.Context) (tabulation.Me, error) {
	var me tabulation.Me
	err := c.do(ctx, "me", http.MethodGet, "/me", nil, &me)
	return me, err
}

func (c *Client) RefereeEvents(ctx context.Context) ([]tabulation.RefereeEvent, error) {
	var events []tabulation.RefereeEvent
	err := c.do(ctx, "referee events", http.MethodGet, "/me/referee-events", nil, &events)
	return events, err
}
