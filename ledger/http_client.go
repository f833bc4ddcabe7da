// ledger/http_client.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"ledger-explorer/models"
	"ledger-explorer/utils"

	"go.uber.org/zap"
)

// HTTPClient queries a ledger node through its JSON query gateway.
type HTTPClient struct {
	BaseURL    *url.URL
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPClient validates the base URL once at construction time.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger URL '%s': %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid ledger URL '%s': scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		BaseURL:    base,
		Token:      token,
		HTTPClient: utils.NewHTTPClient(timeout),
		Logger:     logger.Named("ledger"),
	}, nil
}

func (c *HTTPClient) FetchBlock(ctx context.Context, height uint64) (*Block, error) {
	var out Block
	if err := c.getJSON(ctx, "fetch block", &out, "blocks", strconv.FormatUint(height, 10)); err != nil {
		return nil, err
	}
	if out.Record.Height != height {
		return nil, &TransportError{Op: "fetch block", Err: fmt.Errorf("asked for height %d, node returned %d", height, out.Record.Height)}
	}
	return &out, nil
}

func (c *HTTPClient) FetchTransaction(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	var out models.TransactionRecord
	if err := c.getJSON(ctx, "fetch transaction", &out, "transactions", hash); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchAccount(ctx context.Context, id models.AccountID) (*models.AccountRecord, error) {
	var out models.AccountRecord
	if err := c.getJSON(ctx, "fetch account", &out, "accounts", id.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchDomain(ctx context.Context, id string) (*models.DomainRecord, error) {
	var out models.DomainRecord
	if err := c.getJSON(ctx, "fetch domain", &out, "domains", id); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListDomains(ctx context.Context) ([]models.DomainRecord, error) {
	var response struct {
		Domains []models.DomainRecord `json:"domains"`
	}
	if err := c.getJSON(ctx, "list domains", &response, "domains"); err != nil {
		return nil, err
	}
	return response.Domains, nil
}

func (c *HTTPClient) ListDomainAccounts(ctx context.Context, domain string) ([]models.AccountRecord, error) {
	var response struct {
		Accounts []models.AccountRecord `json:"accounts"`
	}
	if err := c.getJSON(ctx, "list domain accounts", &response, "domains", domain, "accounts"); err != nil {
		return nil, err
	}
	return response.Accounts, nil
}

func (c *HTTPClient) ListDomainAssets(ctx context.Context, domain string) ([]models.AssetDefinitionRecord, error) {
	var response struct {
		AssetDefinitions []models.AssetDefinitionRecord `json:"asset_definitions"`
	}
	if err := c.getJSON(ctx, "list domain assets", &response, "domains", domain, "asset-definitions"); err != nil {
		return nil, err
	}
	return response.AssetDefinitions, nil
}

func (c *HTTPClient) CurrentHeight(ctx context.Context) (uint64, error) {
	var response struct {
		Height uint64 `json:"height"`
	}
	if err := c.getJSON(ctx, "current height", &response, "height"); err != nil {
		return 0, err
	}
	return response.Height, nil
}

func (c *HTTPClient) ListPeers(ctx context.Context) ([]models.PeerRecord, error) {
	var response struct {
		Peers []models.PeerRecord `json:"peers"`
	}
	if err := c.getJSON(ctx, "list peers", &response, "peers"); err != nil {
		return nil, err
	}
	return response.Peers, nil
}

func (c *HTTPClient) ListRoles(ctx context.Context) ([]models.RoleRecord, error) {
	var response struct {
		Roles []models.RoleRecord `json:"roles"`
	}
	if err := c.getJSON(ctx, "list roles", &response, "roles"); err != nil {
		return nil, err
	}
	return response.Roles, nil
}

func (c *HTTPClient) Status(ctx context.Context) (*models.NodeStatus, error) {
	var out models.NodeStatus
	if err := c.getJSON(ctx, "status", &out, "status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON issues GET base/segments... and decodes a 200 body into out.
func (c *HTTPClient) getJSON(ctx context.Context, op string, out any, segments ...string) error {
	endpoint := c.BaseURL.JoinPath(segments...).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create request to %s: %w", endpoint, err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Debug("request failed", zap.String("op", op), zap.String("url", endpoint), zap.Error(err))
		return &TransportError{Op: op, Unavailable: errors.Is(err, syscall.ECONNREFUSED), Err: err}
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(op)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.Logger.Warn("ledger returned non-200",
			zap.String("op", op),
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return &TransportError{
			Op:          op,
			Unavailable: resp.StatusCode == http.StatusServiceUnavailable,
			Err:         fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to decode ledger response: %w", err)}
	}
	return nil
}
