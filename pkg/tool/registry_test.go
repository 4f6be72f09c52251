package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Name: name,

		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"text": {Type: "string"},
			},
		},

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func failingTool(name string, policy Policy, fallback string) Tool {
	return Tool{
		Name: name,

		Policy:   policy,
		Fallback: fallback,

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
}

func TestNewRegistryRejectsInvalidTools(t *testing.T) {
	cases := map[string][]Tool{
		"empty name": {{Execute: echoTool("x").Execute}},
		"no handler": {{Name: "broken"}},
		"duplicate":  {echoTool("echo"), echoTool("echo")},
	}

	for name, tools := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(tools)
			assert.ErrorIs(t, err, ErrInvalidTool)
		})
	}
}

func TestRegistryInvoke(t *testing.T) {
	r, err := NewRegistry([]Tool{echoTool("echo")})
	require.NoError(t, err)

	result := r.Invoke(context.Background(), Call{ID: "call_1", Name: "echo", Args: `{"text":"hello"}`})

	require.False(t, result.IsError || result.Fallback, "unexpected failure: %+v", result)

	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "call_1", result.ID)
	assert.Equal(t, "echo", result.Name)
}

func TestRegistryInvokeEmptyArgs(t *testing.T) {
	r, _ := NewRegistry([]Tool{echoTool("echo")})

	result := r.Invoke(context.Background(), Call{Name: "echo"})

	assert.False(t, result.IsError, "unexpected error result: %s", result.Content)
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	r, _ := NewRegistry(nil)

	result := r.Invoke(context.Background(), Call{ID: "call_1", Name: "missing"})

	require.True(t, result.IsError)
	assert.ErrorIs(t, result.Err, ErrUnknownTool)
	assert.True(t, strings.HasPrefix(result.Content, "error: "), "expected error content, got %q", result.Content)
}

func TestRegistryInvokeMalformedArgs(t *testing.T) {
	r, _ := NewRegistry([]Tool{echoTool("echo")})

	result := r.Invoke(context.Background(), Call{Name: "echo", Args: `{"text":`})

	require.True(t, result.IsError)

	var execErr *ExecutionError

	require.ErrorAs(t, result.Err, &execErr)
	assert.Equal(t, "echo", execErr.Tool)
}

func TestRegistryInvokeIgnoreArgs(t *testing.T) {
	var calls int

	fixed := Tool{
		Name: "fixed",

		IgnoreArgs: true,

		Policy:   PolicyFallback,
		Fallback: "snapshot",

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			calls++
			assert.Empty(t, args)
			return "live", nil
		},
	}

	r, err := NewRegistry([]Tool{fixed})
	require.NoError(t, err)

	result := r.Invoke(context.Background(), Call{Name: "fixed", Args: "not json"})

	assert.Equal(t, 1, calls)
	assert.False(t, result.Fallback)
	assert.Equal(t, "live", result.Content)

	result = r.Invoke(context.Background(), Call{Name: "fixed", Args: `{"from":"EUR"}`})

	assert.Equal(t, 2, calls)
	assert.Equal(t, "live", result.Content)
}

func TestRegistryPropagatePolicy(t *testing.T) {
	r, _ := NewRegistry([]Tool{failingTool("search", PolicyPropagate, "")})

	result := r.Invoke(context.Background(), Call{Name: "search"})

	require.True(t, result.IsError)
	require.False(t, result.Fallback)
	assert.Contains(t, result.Content, "upstream unavailable")
}

func TestRegistryFallbackPolicy(t *testing.T) {
	r, _ := NewRegistry([]Tool{failingTool("rate", PolicyFallback, "snapshot")})

	result := r.Invoke(context.Background(), Call{Name: "rate"})

	require.False(t, result.IsError, "fallback must not be an error result: %+v", result)

	assert.True(t, result.Fallback)
	assert.Equal(t, "snapshot", result.Content)
	assert.Error(t, result.Err)
}

func TestRegistryTimeoutResolvesToPolicy(t *testing.T) {
	slow := Tool{
		Name: "slow",

		Policy:   PolicyFallback,
		Fallback: "snapshot",

		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	r, _ := NewRegistry([]Tool{slow}, WithTimeout(20*time.Millisecond))

	result := r.Invoke(context.Background(), Call{Name: "slow"})

	require.True(t, result.Fallback)
	assert.Equal(t, "snapshot", result.Content)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

func TestNilRegistry(t *testing.T) {
	var r *Registry

	assert.Empty(t, r.Tools())

	result := r.Invoke(context.Background(), Call{Name: "echo"})
	assert.True(t, result.IsError)
}

func TestParameters(t *testing.T) {
	params := echoTool("echo").Parameters()

	assert.Equal(t, "object", params["type"])

	props, ok := params["properties"].(map[string]any)

	require.True(t, ok)
	assert.NotNil(t, props["text"])

	empty := Tool{Name: "noop"}.Parameters()
	assert.Contains(t, empty, "properties")
}

func TestDecodeArgs(t *testing.T) {
	var out struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}

	require.NoError(t, DecodeArgs(map[string]any{"query": "go", "limit": "3"}, &out))

	assert.Equal(t, "go", out.Query)
	assert.Equal(t, 3, out.Limit)
}
