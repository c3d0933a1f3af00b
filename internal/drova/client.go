// Package drova is a typed accessor layer over the vendor REST API. Every
// accessor returns the parsed payload together with the HTTP status; status 0
// stands for a transport-level failure (network error or non-JSON body) and
// callers must treat it exactly like any non-200 status. No retries.
package drova

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/logging"
)

// StatusTransportError is the pseudo status for requests that never produced
// a decodable response.
const StatusTransportError = 0

const (
	authHeader     = "X-Auth-Token"
	requestTimeout = 30 * time.Second
)

// Client issues GET requests against the vendor API base URL.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *logrus.Entry
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// AccountInfo fetches the merchant account bound to the token.
func (c *Client) AccountInfo(ctx context.Context, token string) (*Account, int) {
	var account Account
	status := c.get(ctx, "/accounting/myaccount", nil, token, &account)
	if status != http.StatusOK {
		return nil, status
	}

	return &account, status
}

// Sessions fetches session records. Empty serverID or merchantID and zero
// limit leave the corresponding query parameter unset.
func (c *Client) Sessions(ctx context.Context, token, serverID, merchantID string, limit int) (*SessionList, int) {
	params := url.Values{}
	if serverID != "" {
		params.Set("server_id", serverID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if merchantID != "" {
		params.Set("merchant_id", merchantID)
	}

	var list SessionList
	status := c.get(ctx, "/session-manager/sessions", params, token, &list)
	if status != http.StatusOK {
		return nil, status
	}

	return &list, status
}

// Servers fetches the stations of the given account.
func (c *Client) Servers(ctx context.Context, token, userID string) ([]Server, int) {
	params := url.Values{}
	params.Set("user_id", userID)

	var servers []Server
	status := c.get(ctx, "/server-manager/servers", params, token, &servers)
	if status != http.StatusOK {
		return nil, status
	}

	return servers, status
}

// ServerProducts fetches the product records configured on one station.
func (c *Client) ServerProducts(ctx context.Context, token, userID, serverID string) ([]ServerProduct, int) {
	params := url.Values{}
	params.Set("user_id", userID)

	var products []ServerProduct
	status := c.get(ctx, "/server-manager/serverproduct/list4edit2/"+serverID, params, token, &products)
	if status != http.StatusOK {
		return nil, status
	}

	return products, status
}

// ServerEndpoints fetches the network endpoints of one station.
func (c *Client) ServerEndpoints(ctx context.Context, token, serverID string, limit int) ([]Endpoint, int) {
	params := url.Values{}
	params.Set("server_id", serverID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var endpoints []Endpoint
	status := c.get(ctx, "/server-manager/serverendpoint/list/"+serverID, params, token, &endpoints)
	if status != http.StatusOK {
		return nil, status
	}

	return endpoints, status
}

// ProductsFull fetches the global product catalog. No auth required.
func (c *Client) ProductsFull(ctx context.Context) ([]Product, int) {
	var products []Product
	status := c.get(ctx, "/product-manager/product/listfull2", nil, "", &products)
	if status != http.StatusOK {
		return nil, status
	}

	return products, status
}

func (c *Client) get(ctx context.Context, path string, params url.Values, token string, out interface{}) int {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event": "vendor_request_error",
			"path":  path,
		}).WithError(err).Error("failed to build vendor request")
		return StatusTransportError
	}

	if token != "" {
		req.Header.Set(authHeader, token)
	}

	c.logger.WithFields(logging.Fields{
		"event": "vendor_request",
		"path":  path,
		"token": maskToken(token),
	}).Debug("vendor GET")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event": "vendor_transport_error",
			"path":  path,
		}).WithError(err).Warn("vendor request failed")
		return StatusTransportError
	}
	defer resp.Body.Close()

	status := resp.StatusCode

	// Non-200 bodies are not decoded; the caller only branches on the status.
	if status != http.StatusOK {
		c.logger.WithFields(logging.Fields{
			"event":  "vendor_response",
			"path":   path,
			"status": status,
		}).Warn("vendor request rejected")
		return status
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":  "vendor_decode_error",
			"path":   path,
			"status": status,
		}).WithError(err).Warn("vendor response is not valid JSON")
		return StatusTransportError
	}

	c.logger.WithFields(logging.Fields{
		"event":   "vendor_response",
		"path":    path,
		"status":  status,
		"time_ms": time.Since(started).Milliseconds(),
	}).Debug("vendor GET done")

	return status
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
