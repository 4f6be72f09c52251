package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/adrianliechti/wingman-gateway/pkg/tool"
)

const (
	defaultBaseURL = "https://www.alphavantage.co"
)

var (
	_ tool.Provider = (*Client)(nil)
)

// Snapshot is the last known USD/KRW rate. It is served whenever the live
// lookup fails.
var Snapshot = Rate{
	FromCode: "USD",
	FromName: "United States Dollar",

	ToCode: "KRW",
	ToName: "South Korean Won",

	Rate: "1366.77000000",
}

type Rate struct {
	FromCode string `json:"1. From_Currency Code"`
	FromName string `json:"2. From_Currency Name"`

	ToCode string `json:"3. To_Currency Code"`
	ToName string `json:"4. To_Currency Name"`

	Rate string `json:"5. Exchange Rate"`

	LastRefreshed string `json:"6. Last Refreshed"`
	TimeZone      string `json:"7. Time Zone"`
}

func (r Rate) String() string {
	return fmt.Sprintf("1 %s (%s) = %s %s (%s)", r.FromName, r.FromCode, r.Rate, r.ToName, r.ToCode)
}

type Client struct {
	client *http.Client

	token   string
	baseURL string

	from string
	to   string
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

		from: Snapshot.FromCode,
		to:   Snapshot.ToCode,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		c.ExchangeTool(),
	}, nil
}

// ExchangeTool looks up the USD to KRW rate. The pair is fixed by the
// deployment; any arguments the model supplies are ignored.
func (c *Client) ExchangeTool() tool.Tool {
	return tool.Tool{
		Name:        "get_currency_exchange",
		Description: "Get the current exchange rate from United States Dollar (USD) to South Korean Won (KRW).",

		Schema: &tool.Schema{
			Type:       "object",
			Properties: map[string]*tool.Schema{},
		},

		IgnoreArgs: true,

		Policy:   tool.PolicyFallback,
		Fallback: Snapshot.String(),

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			rate, err := c.Exchange(ctx)

			if err != nil {
				return "", err
			}

			return rate.String(), nil
		},
	}
}

type exchangeResponse struct {
	Rate *Rate `json:"Realtime Currency Exchange Rate"`

	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (c *Client) Exchange(ctx context.Context) (*Rate, error) {
	u, _ := url.Parse(c.baseURL + "/query")

	values := u.Query()
	values.Set("function", "CURRENCY_EXCHANGE_RATE")
	values.Set("from_currency", c.from)
	values.Set("to_currency", c.to)
	values.Set("apikey", c.token)

	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)

	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage returned status %d", resp.StatusCode)
	}

	var result exchangeResponse

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode exchange rate: %w", err)
	}

	if result.Rate == nil {
		for _, msg := range []string{result.ErrorMessage, result.Note, result.Information} {
			if msg != "" {
				return nil, errors.New(msg)
			}
		}

		return nil, errors.New("exchange rate missing in response")
	}

	rate := result.Rate

	if rate.Rate == "" || rate.FromName == "" || rate.ToName == "" {
		return nil, errors.New("incomplete exchange rate in response")
	}

	return rate, nil
}
