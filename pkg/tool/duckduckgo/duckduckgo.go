package duckduckgo

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/adrianliechti/wingman/pkg/text"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

const (
	defaultBaseURL    = "https://duckduckgo.com"
	defaultMaxResults = 4
)

var (
	_ tool.Provider = (*Client)(nil)
)

var (
	regexLink   = regexp.MustCompile(`href="([^"]+)"`)
	regexBlocks = regexp.MustCompile(`</?(?:a|h[1-6]|div|span|td|tr)\b[^>]*>`)
	regexTags   = regexp.MustCompile(`<[^>]*>`)
	regexVQD    = regexp.MustCompile(`vqd=["']?([0-9-]+)`)
)

type Client struct {
	client *http.Client

	baseURL    string
	maxResults int
}

type Option func(*Client)

func WithClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithMaxResults(n int) Option {
	return func(c *Client) {
		c.maxResults = n
	}
}

func New(options ...Option) *Client {
	c := &Client{
		client: http.DefaultClient,

		baseURL:    defaultBaseURL,
		maxResults: defaultMaxResults,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

type searchArgs struct {
	SearchPhrase string `json:"search_phrase"`
}

func searchSchema() *tool.Schema {
	return &tool.Schema{
		Type: "object",

		Properties: map[string]*tool.Schema{
			"search_phrase": {
				Type:        "string",
				Description: "the text to search for",
			},
		},

		Required: []string{"search_phrase"},
	}
}

func parseArgs(args map[string]any) (string, error) {
	var a searchArgs

	if err := tool.DecodeArgs(args, &a); err != nil {
		return "", err
	}

	if strings.TrimSpace(a.SearchPhrase) == "" {
		return "", errors.New("missing search_phrase parameter")
	}

	return a.SearchPhrase, nil
}

func (c *Client) WebSearchTool() tool.Tool {
	return tool.Tool{
		Name:        "web_search_duckduckgo",
		Description: "Search the web using duckduckgo.",

		Schema: searchSchema(),
		Policy: tool.PolicyPropagate,

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := parseArgs(args)

			if err != nil {
				return "", err
			}

			results, err := c.Query(ctx, query)

			if err != nil {
				return "", err
			}

			return formatResults(results), nil
		},
	}
}

func (c *Client) NewsSearchTool() tool.Tool {
	return tool.Tool{
		Name:        "news_search_duckduckgo",
		Description: "Search news using duckduckgo.",

		Schema: searchSchema(),
		Policy: tool.PolicyPropagate,

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := parseArgs(args)

			if err != nil {
				return "", err
			}

			results, err := c.News(ctx, query)

			if err != nil {
				return "", err
			}

			return formatResults(results), nil
		},
	}
}

func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		c.WebSearchTool(),
		c.NewsSearchTool(),
	}, nil
}

type Result struct {
	URL string

	Title   string
	Content string

	Source string
	Date   time.Time
}

func (c *Client) Query(ctx context.Context, query string) ([]Result, error) {
	u, _ := url.Parse(c.baseURL + "/html/")

	values := u.Query()
	values.Set("q", query)

	u.RawQuery = values.Encode()

	resp, err := c.get(ctx, u.String(), "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	var results []Result

	scanner := bufio.NewScanner(resp.Body)

	var resultURL string
	var resultTitle string
	var resultSnippet string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "result__a") {
			resultTitle = cleanHTML(line)
		}

		if strings.Contains(line, "result__url") {
			links := regexLink.FindStringSubmatch(line)

			if len(links) >= 2 {
				resultURL = links[1]
			}
		}

		if strings.Contains(line, "result__snippet") {
			resultSnippet = cleanHTML(line)
		}

		if resultSnippet == "" {
			continue
		}

		results = append(results, Result{
			URL: resultURL,

			Title:   resultTitle,
			Content: resultSnippet,
		})

		resultURL = ""
		resultTitle = ""
		resultSnippet = ""

		if c.maxResults > 0 && len(results) >= c.maxResults {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

type newsResponse struct {
	Results []struct {
		Date    int64  `json:"date"`
		Title   string `json:"title"`
		Excerpt string `json:"excerpt"`
		URL     string `json:"url"`
		Source  string `json:"source"`
	} `json:"results"`
}

// News queries the duckduckgo news index. It needs a vqd token which is
// scraped from the regular search page first.
func (c *Client) News(ctx context.Context, query string) ([]Result, error) {
	vqd, err := c.token(ctx, query)

	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(c.baseURL + "/news.js")

	values := u.Query()
	values.Set("l", "wt-wt")
	values.Set("o", "json")
	values.Set("noamp", "1")
	values.Set("q", query)
	values.Set("vqd", vqd)
	values.Set("p", "-1")

	u.RawQuery = values.Encode()

	resp, err := c.get(ctx, u.String(), "application/json")

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	var news newsResponse

	if err := json.NewDecoder(resp.Body).Decode(&news); err != nil {
		return nil, fmt.Errorf("failed to decode news response: %w", err)
	}

	var results []Result

	for _, n := range news.Results {
		r := Result{
			URL: n.URL,

			Title:   text.Normalize(n.Title),
			Content: cleanHTML(n.Excerpt),

			Source: n.Source,
		}

		if n.Date > 0 {
			r.Date = time.Unix(n.Date, 0).UTC()
		}

		results = append(results, r)

		if c.maxResults > 0 && len(results) >= c.maxResults {
			break
		}
	}

	return results, nil
}

func (c *Client) token(ctx context.Context, query string) (string, error) {
	u, _ := url.Parse(c.baseURL + "/")

	values := u.Query()
	values.Set("q", query)

	u.RawQuery = values.Encode()

	resp, err := c.get(ctx, u.String(), "text/html")

	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if err != nil {
		return "", err
	}

	match := regexVQD.FindSubmatch(data)

	if len(match) < 2 {
		return "", errors.New("failed to obtain search token")
	}

	return string(match[1]), nil
}

func (c *Client) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("Referer", "https://www.duckduckgo.com/")
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.4 Safari/605.1.15")

	resp, err := c.client.Do(req)

	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	return resp, nil
}

// cleanHTML turns a result fragment into plain text. Emphasis survives as
// markdown, entities are decoded.
func cleanHTML(fragment string) string {
	fragment = regexBlocks.ReplaceAllString(fragment, "")

	markdown, err := htmltomarkdown.ConvertString(fragment)

	if err != nil {
		markdown = regexTags.ReplaceAllString(fragment, "")
	}

	return text.Normalize(markdown)
}

func formatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var parts []string

	for _, r := range results {
		var sb strings.Builder

		sb.WriteString("snippet: " + r.Content)
		sb.WriteString(", title: " + r.Title)
		sb.WriteString(", link: " + r.URL)

		if !r.Date.IsZero() {
			sb.WriteString(", date: " + r.Date.Format(time.RFC3339))
		}

		if r.Source != "" {
			sb.WriteString(", source: " + r.Source)
		}

		parts = append(parts, sb.String())
	}

	return strings.Join(parts, ", ")
}
