package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// APIError is a provider-reported failure carrying the HTTP status the error
// classifier keys on.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ErrRateLimited is returned by the local limiter before any network call and
// is classified transient, same as a provider-side 429.
var ErrRateLimited = errors.New("provider rate limit exceeded")

// RateLimiter guards outbound marketplace calls against API quotas.
type RateLimiter interface {
	Allow(ctx context.Context, provider string) error
}

type unlimited struct{}

func (unlimited) Allow(context.Context, string) error { return nil }

// Unlimited is the limiter used when no Redis is configured.
func Unlimited() RateLimiter { return unlimited{} }

type errorBody struct {
	Meta struct {
		Message string `json:"message"`
	} `json:"meta"`
	Error string `json:"error"`
}

// doJSON performs one JSON round trip. Timeouts come from the http.Client and
// surface as net errors, which the classifier treats as transient.
func doJSON(
	ctx context.Context,
	client *http.Client,
	providerName, method, url string,
	headers map[string]string,
	reqBody any,
	respBody any,
) error {
	var payload io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s call failed", providerName)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "%s read response", providerName)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Meta.Message != "" {
				msg = eb.Meta.Message
			} else if eb.Error != "" {
				msg = eb.Error
			}
		}
		return &APIError{Provider: providerName, StatusCode: resp.StatusCode, Message: msg}
	}

	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return errors.Wrapf(err, "%s decode response", providerName)
		}
	}
	return nil
}
