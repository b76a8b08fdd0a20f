// Package catalog resolves user-facing batch names to their catalog
// definitions: dataset membership, execution sequence, and valid slices.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	exception "github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

const moduleName = "catalog"

// Client fetches raw batch definitions from the catalog service.
type Client interface {
	// FetchDefinition retrieves the raw definition document for the given
	// canonical batch name.
	FetchDefinition(ctx context.Context, essentialName string) ([]byte, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchDefinition implements Client.
func (c *HTTPClient) FetchDefinition(ctx context.Context, essentialName string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/def?name=%s", c.baseURL, url.QueryEscape(essentialName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, exception.New(moduleName, "failed to build catalog request", exception.KindInternal, err)
	}
	req.Header.Set("Accept", "application/json")

	logger.Debugf("Fetching catalog definition for '%s'", essentialName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, exception.New(moduleName, "catalog request timed out", exception.KindTimeout, err)
		}
		return nil, exception.New(moduleName, "catalog service unreachable", exception.KindConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, exception.Newf(moduleName, exception.KindConnectivity,
			"catalog service returned status %d for '%s'", resp.StatusCode, essentialName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exception.New(moduleName, "failed to read catalog response", exception.KindConnectivity, err)
	}
	return body, nil
}

var _ Client = (*HTTPClient)(nil)
