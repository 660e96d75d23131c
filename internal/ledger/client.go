package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/idgen"
)

// Config configures the REST transport to the ledger's HTTP gateway.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Offline makes every RPC return synthetic empty results instead of
	// making an HTTP call, for deterministic tests and dry-run operation
	// (spec §4.5's "offline mode"), mirroring the teacher's dryRun
	// short-circuit in every mutating exchange.Client method.
	Offline bool
}

// Client is the resty-backed ledger façade implementation, grounded on
// the teacher's internal/exchange/client.go: a resty.Client with base URL,
// timeout, 5xx retry, and a short-circuit for the no-op operating mode.
type Client struct {
	http    *resty.Client
	offline bool
	limiter *rateLimiter
	logger  *zap.Logger
}

var _ Facade = (*Client)(nil)

// New builds a ledger client.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		offline: cfg.Offline,
		limiter: newRateLimiter(),
		logger:  logger.With(zap.String("component", "ledger")),
	}
}

// submitCommandWire is the REST payload shape for submitCommand.
type submitCommandWire struct {
	UserID    string    `json:"userId"`
	CommandID string    `json:"commandId"`
	ActAs     []string  `json:"actAs"`
	ReadAs    []string  `json:"readAs"`
	Commands  []Command `json:"commands"`
}

type submitCommandResult struct {
	TransactionID string `json:"transactionId"`
	NewContractID string `json:"contractId"`
}

// SubmitCommand implements Facade.
func (c *Client) SubmitCommand(ctx context.Context, in SubmitCommandInput) (SubmitCommandOutput, error) {
	if in.CommandID == "" {
		return SubmitCommandOutput{}, fmt.Errorf("ledger: submitCommand requires a commandId")
	}
	if c.offline {
		c.logger.Debug("offline: synthetic submitCommand", zap.String("commandId", in.CommandID))
		return SubmitCommandOutput{
			TransactionID: "offline_" + in.CommandID,
			NewContractID: "offline_cid_" + idgen.CommandDigest(in.CommandID),
		}, nil
	}
	if err := c.limiter.submit.wait(ctx); err != nil {
		return SubmitCommandOutput{}, fmt.Errorf("ledger: rate limit wait: %w", err)
	}

	var result submitCommandResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submitCommandWire{
			UserID:    in.UserID,
			CommandID: in.CommandID,
			ActAs:     in.ActAs,
			ReadAs:    in.ReadAs,
			Commands:  in.Commands,
		}).
		SetResult(&result).
		Post("/v1/submit")
	if err != nil {
		return SubmitCommandOutput{}, fmt.Errorf("ledger: submit command: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return SubmitCommandOutput{}, fmt.Errorf("ledger: submit command: status %d: %s", resp.StatusCode(), resp.String())
	}
	return SubmitCommandOutput{TransactionID: result.TransactionID, NewContractID: result.NewContractID}, nil
}

// GetActiveContracts implements Facade.
func (c *Client) GetActiveContracts(ctx context.Context, templateID, party string) ([]ActiveContract, error) {
	if c.offline {
		return nil, nil
	}
	if err := c.limiter.query.wait(ctx); err != nil {
		return nil, fmt.Errorf("ledger: rate limit wait: %w", err)
	}

	var result []ActiveContract
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"templateId": templateID, "party": party}).
		SetResult(&result).
		Get("/v1/active-contracts")
	if err != nil {
		return nil, fmt.Errorf("ledger: get active contracts: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ledger: get active contracts: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetContract implements Facade. Returns (nil, nil) when no contract is
// found rather than an error.
func (c *Client) GetContract(ctx context.Context, contractID, party string) (*ActiveContract, error) {
	if c.offline {
		return nil, nil
	}
	if err := c.limiter.query.wait(ctx); err != nil {
		return nil, fmt.Errorf("ledger: rate limit wait: %w", err)
	}

	var result ActiveContract
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"contractId": contractID, "party": party}).
		SetResult(&result).
		Get("/v1/contract")
	if err != nil {
		return nil, fmt.Errorf("ledger: get contract: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ledger: get contract: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
