package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const baseUrl = "https://androidpublisher.googleapis.com/androidpublisher/v3/applications/"

// StatusError carries the HTTP status code of a failed publisher API call.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected http status code: %d", e.Code)
}

// Client issues raw calls against the Google Play publisher API with a bare
// access token.
type Client struct {
	httpClient *http.Client
	baseUrl    string
}

// NewClient returns a new publisher API client
func NewClient() *Client {
	return &Client{
		httpClient: http.DefaultClient,
		baseUrl:    baseUrl,
	}
}

// ValidateReceiptRequest identifies the purchase to look up.
type ValidateReceiptRequest struct {
	PackageName   string
	ProductID     string
	PurchaseToken string

	// AccessToken is an OAuth token with androidpublisher scope. It is sent as
	// a query parameter.
	AccessToken string

	// Subscription selects the subscriptions sub-resource instead of products.
	Subscription bool
}

// ValidateReceipt fetches the purchase resource for a token and returns the
// parsed response body verbatim. A non-2xx response fails with a StatusError
// carrying the status code. No retries, no caching.
//
// This helper is for debugging only: it puts the access token on the URL, and
// shipping a publisher API credential with an app is a secret-exposure risk.
// Production validation belongs on a backend, e.g. via Verifier.
func (c *Client) ValidateReceipt(ctx context.Context, req ValidateReceiptRequest) (map[string]interface{}, error) {
	resource := "products"
	if req.Subscription {
		resource = "subscriptions"
	}

	fromUrl := fmt.Sprintf("%s%s/purchases/%s/%s/tokens/%s?access_token=%s",
		c.baseUrl,
		url.PathEscape(req.PackageName),
		resource,
		url.PathEscape(req.ProductID),
		url.PathEscape(req.PurchaseToken),
		url.QueryEscape(req.AccessToken),
	)

	httpReq, err := http.NewRequest("GET", fromUrl, nil)
	if err != nil {
		return nil, err
	}

	httpReq = httpReq.WithContext(ctx)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to parse publisher API response")
	}
	return result, nil
}
