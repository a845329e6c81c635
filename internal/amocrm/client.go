package amocrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evgenich/amosheets/internal/token"
)

const userAgent = "amosheets/1.0"

// ErrDealNotFound indicates the requested deal does not exist in the CRM.
var ErrDealNotFound = errors.New("deal not found")

// TokenSource provides the bearer token for outbound calls and the ability
// to refresh it once on an authorization failure.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) (token.RefreshResult, error)
}

// APIError is a non-2xx response from the CRM.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amocrm: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// Options configures a Client.
type Options struct {
	Domain     string
	Tokens     TokenSource
	HTTPClient *http.Client
	// BaseURL overrides the API origin (tests). When empty it is derived
	// from Domain.
	BaseURL string
}

// Client talks to the amoCRM v4 API. Auth retry here is strictly limited to
// one refresh-and-retry on a 401; every other retry policy lives with the
// caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates an amoCRM API client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://" + opts.Domain
	}
	return &Client{
		baseURL:    base + "/api/v4",
		httpClient: httpClient,
		tokens:     opts.Tokens,
	}
}

// get performs one GET with the current bearer token. On a 401 it triggers a
// single token refresh and retries the same request exactly once; a second
// failure propagates.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	err := c.doGet(ctx, path, query, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		slog.Warn("amoCRM token expired, attempting refresh", "component", "amocrm", "path", path)
		if _, refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
			// Refresh failed; surface the original auth error.
			return err
		}
		return c.doGet(ctx, path, query, out)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if tok := c.tokens.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("amocrm: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, Path: path}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("amocrm: decode %s response: %w", path, err)
	}
	return nil
}

// GetDeal fetches a deal with its embedded contact and company references.
// Returns ErrDealNotFound when the CRM has no such deal.
func (c *Client) GetDeal(ctx context.Context, dealID int64) (*Deal, error) {
	query := url.Values{"with": []string{"contacts,companies"}}

	var deal Deal
	err := c.get(ctx, "/leads/"+strconv.FormatInt(dealID, 10), query, &deal)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	// amoCRM answers 204 with an empty body for some missing leads.
	if deal.ID == 0 {
		return nil, ErrDealNotFound
	}
	return &deal, nil
}

// pipelinesResponse unwraps the _embedded envelope of the pipeline list.
type pipelinesResponse struct {
	Embedded struct {
		Pipelines []Pipeline `json:"pipelines"`
	} `json:"_embedded"`
}

// GetPipelines fetches all lead pipelines with their stages. Failure here
// propagates: stage-name resolution and filtering depend on it.
func (c *Client) GetPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp pipelinesResponse
	if err := c.get(ctx, "/leads/pipelines", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Pipelines, nil
}

// GetUser fetches a user by id. Best effort: a missing responsible user must
// not block sync of the deal itself, so any failure yields nil.
func (c *Client) GetUser(ctx context.Context, userID int64) *User {
	var user User
	if err := c.get(ctx, "/users/"+strconv.FormatInt(userID, 10), nil, &user); err != nil {
		slog.Warn("failed to get user", "component", "amocrm", "user_id", userID, "error", err)
		return nil
	}
	return &user
}

// GetContact fetches a contact with custom fields by id. Best effort.
func (c *Client) GetContact(ctx context.Context, contactID int64) *Contact {
	query := url.Values{"with": []string{"custom_fields"}}
	var contact Contact
	if err := c.get(ctx, "/contacts/"+strconv.FormatInt(contactID, 10), query, &contact); err != nil {
		slog.Warn("failed to get contact", "component", "amocrm", "contact_id", contactID, "error", err)
		return nil
	}
	return &contact
}

// GetCompany fetches a company by id. Best effort.
func (c *Client) GetCompany(ctx context.Context, companyID int64) *Company {
	var company Company
	if err := c.get(ctx, "/companies/"+strconv.FormatInt(companyID, 10), nil, &company); err != nil {
		slog.Warn("failed to get company", "component", "amocrm", "company_id", companyID, "error", err)
		return nil
	}
	return &company
}

// CheckAccount verifies CRM reachability and auth by fetching the account.
func (c *Client) CheckAccount(ctx context.Context) error {
	return c.get(ctx, "/account", nil, nil)
}
