package tswatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Client talks to the Times Square REST API. Responses are checked against
// their JSON schema before they are decoded.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// PageURL is {base}/pages/{page}.
func (c *Client) PageURL(page string) string {
	return c.baseURL + "/pages/" + escapeSegment(page)
}

// EventsURL is {base}/pages/{page}/html/events, without params.
func (c *Client) EventsURL(page string) string {
	return c.PageURL(page) + "/html/events"
}

func (c *Client) Pages(ctx context.Context) ([]PageSummary, error) {
	var out []PageSummary
	if err := c.getJSON(ctx, c.baseURL+"/pages", pageListSchema, &out, "fetch pages"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Page(ctx context.Context, name string) (*Page, error) {
	if strings.TrimSpace(name) == "" {
		return nil, validationError("page name is required", nil)
	}
	var out Page
	if err := c.getJSON(ctx, c.PageURL(name), pageSchema, &out, "fetch page"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GitHubPage fetches page metadata by GitHub display path. The path is
// sanitized before any request is made.
func (c *Client) GitHubPage(ctx context.Context, displayPath string) (*Page, error) {
	clean, err := SanitizeDisplayPath(displayPath)
	if err != nil {
		return nil, err
	}
	var out Page
	if err := c.getJSON(ctx, c.baseURL+"/github/"+clean, pageSchema, &out, "fetch GitHub page"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GitHubContents fetches the tree of GitHub-backed pages.
func (c *Client) GitHubContents(ctx context.Context) (*GitHubContents, error) {
	var out GitHubContents
	if err := c.getJSON(ctx, c.baseURL+"/github", githubContentsSchema, &out, "fetch GitHub contents"); err != nil {
		return nil, err
	}
	return &out, nil
}

// prURL is {base}/github-pr/{owner}/{repo}/{commit}.
func (c *Client) prURL(owner, repo, commit string) (string, error) {
	for _, part := range []string{owner, repo, commit} {
		if isDotSegment(part) || strings.TrimSpace(part) == "" || strings.ContainsAny(part, `/\`) {
			return "", securityError("invalid owner, repo or commit")
		}
	}
	return fmt.Sprintf("%s/github-pr/%s/%s/%s", c.baseURL, escapeSegment(owner), escapeSegment(repo), escapeSegment(commit)), nil
}

// GitHubPRContents fetches the page tree and check runs of a pull request
// preview.
func (c *Client) GitHubPRContents(ctx context.Context, owner, repo, commit string) (*GitHubPRContents, error) {
	u, err := c.prURL(owner, repo, commit)
	if err != nil {
		return nil, err
	}
	var out GitHubPRContents
	if err := c.getJSON(ctx, u, githubPRContentsSchema, &out, "fetch GitHub PR contents"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GitHubPRPage fetches a pull request preview page.
func (c *Client) GitHubPRPage(ctx context.Context, owner, repo, commit, path string) (*Page, error) {
	base, err := c.prURL(owner, repo, commit)
	if err != nil {
		return nil, err
	}
	clean, err := SanitizeDisplayPath(path)
	if err != nil {
		return nil, err
	}
	u := base + "/" + clean
	var out Page
	if err := c.getJSON(ctx, u, pageSchema, &out, "fetch GitHub PR page"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchHTMLStatus(ctx context.Context, page string, params Params) (*HTMLStatus, error) {
	return c.FetchHTMLStatusByURL(ctx, c.PageURL(page)+"/htmlstatus", params)
}

// FetchHTMLStatusByURL uses a status URL taken from page metadata.
func (c *Client) FetchHTMLStatusByURL(ctx context.Context, statusURL string, params Params) (*HTMLStatus, error) {
	var out HTMLStatus
	if err := c.getJSON(ctx, WithParams(statusURL, params), htmlStatusSchema, &out, "fetch HTML status"); err != nil {
		return nil, err
	}
	if out.Available && out.ContentHash == nil {
		return nil, validationError("HTML status is available without a hash", nil)
	}
	return &out, nil
}

// Recompute asks the service to execute the notebook behind htmlURL again.
// The response body is ignored; only transport failures are returned.
func (c *Client) Recompute(ctx context.Context, htmlURL string) error {
	if htmlURL == "" {
		return validationError("html url is required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, htmlURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError("recompute", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) getJSON(ctx context.Context, u string, schema *gojsonschema.Schema, out any, what string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("failed to %s: %d %s", what, resp.StatusCode, http.StatusText(resp.StatusCode))
		return httpError(msg, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(what, err)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return validationError(what+": response is not JSON", err)
	}
	if err := validateShape(schema, doc); err != nil {
		return validationError(what+": unexpected response shape", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return validationError(what, err)
	}
	return nil
}
