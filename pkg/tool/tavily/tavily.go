package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
	defaultTopic      = "general"
)

var (
	_ tool.Provider = (*Client)(nil)
)

type Client struct {
	client *http.Client

	token   string
	baseURL string

	maxResults int
	topic      string
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

func New(token string, options ...Option) *Client {
	c := &Client{
		client: http.DefaultClient,

		token:   token,
		baseURL: defaultBaseURL,

		maxResults: defaultMaxResults,
		topic:      defaultTopic,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		c.SearchTool(),
	}, nil
}

func (c *Client) SearchTool() tool.Tool {
	return tool.Tool{
		Name:        "tavily_search",
		Description: "Search the web using tavily.",

		Schema: &tool.Schema{
			Type: "object",

			Properties: map[string]*tool.Schema{
				"search_phrase": {
					Type:        "string",
					Description: "the text to search for",
				},
			},

			Required: []string{"search_phrase"},
		},

		Policy: tool.PolicyPropagate,

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			var a struct {
				SearchPhrase string `json:"search_phrase"`
			}

			if err := tool.DecodeArgs(args, &a); err != nil {
				return "", err
			}

			if strings.TrimSpace(a.SearchPhrase) == "" {
				return "", errors.New("missing search_phrase parameter")
			}

			results, err := c.Search(ctx, a.SearchPhrase)

			if err != nil {
				return "", err
			}

			var sb strings.Builder

			for _, r := range results {
				sb.WriteString(r.Content + "\n" + r.URL + "\n\n")
			}

			return strings.TrimSpace(sb.String()), nil
		},
	}
}

type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchRequest struct {
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.token == "" {
		return nil, errors.New("tavily api key is not configured")
	}

	body, _ := json.Marshal(searchRequest{
		Query:      query,
		Topic:      c.topic,
		MaxResults: c.maxResults,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))

	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result searchResponse

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tavily response: %w", err)
	}

	return result.Results, nil
}
