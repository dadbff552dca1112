// Package shopify is a thin client for the commerce backend's Storefront
// GraphQL API. It covers the cart resource (create, read, line mutations,
// buyer identity) and the catalog reads the storefront needs.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultAPIVersion = "2024-01"

// Config holds the connection settings for the Storefront API.
type Config struct {
	// Domain is the shop domain, e.g. "my-shop.myshopify.com".
	Domain string
	// AccessToken is the public storefront access token.
	AccessToken string
	// APIVersion selects the API version; defaults to 2024-01.
	APIVersion string
	// HTTPClient overrides the transport; defaults to an otel-instrumented
	// client with a 15s timeout.
	HTTPClient *http.Client
}

// Client executes GraphQL documents against the Storefront API endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	endpoint := cfg.Domain
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/") + "/api/" + version + "/graphql.json"

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		endpoint: endpoint,
		token:    cfg.AccessToken,
		http:     httpClient,
	}
}

// GraphQLError is a top-level GraphQL error response (malformed query,
// throttling, auth failure). Distinct from UserError, which is a
// mutation-level validation failure.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	if len(e.Messages) == 0 {
		return "graphql error"
	}
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// UserError is a mutation-level validation failure, e.g. adding an
// unavailable variant. The backend returns these with a 200 response.
type UserError struct {
	Field   string
	Message string
}

func (e *UserError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

type wireUserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// firstUserError converts the backend's userErrors array into a *UserError,
// or nil when the array is empty.
func firstUserError(errs []wireUserError) error {
	if len(errs) == 0 {
		return nil
	}
	return &UserError{
		Field:   strings.Join(errs[0].Field, "."),
		Message: errs[0].Message,
	}
}

// do executes a GraphQL document and decodes the data payload into out.
// Variables are written by vars into the request's variables object; pass nil
// for documents without variables.
func (c *Client) do(ctx context.Context, query string, vars func(e *jx.Encoder), out any) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("query", func(e *jx.Encoder) {
			e.Str(query)
		})
		if vars != nil {
			e.Field("variables", func(e *jx.Encoder) {
				e.Obj(vars)
			})
		}
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(envelope.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, ge := range envelope.Errors {
			gqlErr.Messages = append(gqlErr.Messages, ge.Message)
		}
		return gqlErr
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
