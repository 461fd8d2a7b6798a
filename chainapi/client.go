package chainapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/ruteri/derived-key-session/metrics"
	"golang.org/x/time/rate"
)

// Routes of the node API.
const (
	RouteAuthorizeDerivedKey = "/api/v0/authorize-derived-key"
	RouteAppendExtraData     = "/api/v0/append-extra-data"
	RouteSubmitTransaction   = "/api/v0/submit-transaction"
	RouteGetUserDerivedKeys  = "/api/v0/get-user-derived-keys"
	RouteGetAppState         = "/api/v0/get-app-state"

	// ExtraDataDerivedPublicKey is the metadata key carrying the compressed derived key.
	ExtraDataDerivedPublicKey = "DerivedPublicKey"
)

// Config of the node API client.
type Config struct {
	NodeURL              string
	Timeout              time.Duration
	RequestsPerSecond    float64
	Burst                int
	RetryCount           int
	MinFeeRateNanosPerKB uint64
}

// DefaultConfig returns settings for the public mainnet node.
func DefaultConfig() Config {
	return Config{
		NodeURL:              "https://node.deso.org",
		Timeout:              10 * time.Second,
		RequestsPerSecond:    5,
		Burst:                5,
		RetryCount:           2,
		MinFeeRateNanosPerKB: 1000,
	}
}

// Client implements interfaces.ChainAPI over the node's REST API.
type Client struct {
	rest    *resty.Client
	limiter *rate.Limiter
	cfg     Config
	log     *slog.Logger
}

// NewClient creates a client. Requests are paced by a token bucket limiter.
func NewClient(cfg Config, log *slog.Logger) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.NodeURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		rest:    rest,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		log:     log,
	}
}

// HTTPClient exposes the underlying http client, e.g. for transport mocks.
func (c *Client) HTTPClient() *http.Client {
	return c.rest.GetClient()
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, route string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", interfaces.ErrChainAPIFailure, route, err)
	}

	start := time.Now()
	var apiErr apiError
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(route)
	if err != nil {
		metrics.ChainAPIRequests.WithLabelValues(route, "error").Observe(time.Since(start).Seconds())
		c.log.Debug("Chain API request failed", slog.String("route", route), "err", err)
		return fmt.Errorf("%w: %s: %v", interfaces.ErrChainAPIFailure, route, err)
	}

	metrics.ChainAPIRequests.WithLabelValues(route, strconv.Itoa(resp.StatusCode())).Observe(time.Since(start).Seconds())

	if resp.IsError() {
		c.log.Debug("Chain API returned error",
			slog.String("route", route),
			slog.Int("status", resp.StatusCode()),
			slog.String("error", apiErr.Error))
		return fmt.Errorf("%w: %s returned %d: %s", interfaces.ErrChainAPIFailure, route, resp.StatusCode(), apiErr.Error)
	}

	return nil
}

type authorizeDerivedKeyRequest struct {
	OwnerPublicKeyBase58Check   string `json:"OwnerPublicKeyBase58Check"`
	DerivedPublicKeyBase58Check string `json:"DerivedPublicKeyBase58Check"`
	ExpirationBlock             uint64 `json:"ExpirationBlock"`
	AccessSignature             string `json:"AccessSignature"`
	DeleteKey                   bool   `json:"DeleteKey"`
	MinFeeRateNanosPerKB        uint64 `json:"MinFeeRateNanosPerKB"`
}

type transactionResponse struct {
	TransactionHex string `json:"TransactionHex"`
}

// AuthorizeDerivedKey requests an unsigned authorization transaction, or a
// revocation when isRevoke is set.
func (c *Client) AuthorizeDerivedKey(ctx context.Context, rootPublicKey, derivedPublicKey, accessSignature string, expirationBlock uint64, isRevoke bool) (string, error) {
	var resp transactionResponse
	err := c.post(ctx, RouteAuthorizeDerivedKey, authorizeDerivedKeyRequest{
		OwnerPublicKeyBase58Check:   rootPublicKey,
		DerivedPublicKeyBase58Check: derivedPublicKey,
		ExpirationBlock:             expirationBlock,
		AccessSignature:             accessSignature,
		DeleteKey:                   isRevoke,
		MinFeeRateNanosPerKB:        c.cfg.MinFeeRateNanosPerKB,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TransactionHex == "" {
		return "", fmt.Errorf("%w: %s returned no transaction", interfaces.ErrChainAPIFailure, RouteAuthorizeDerivedKey)
	}
	return resp.TransactionHex, nil
}

type appendExtraDataRequest struct {
	TransactionHex string            `json:"TransactionHex"`
	ExtraData      map[string]string `json:"ExtraData"`
}

// AppendExtraData attaches the compressed derived public key to a transaction.
func (c *Client) AppendExtraData(ctx context.Context, unsignedTransactionHex, compressedDerivedPublicKey string) (string, error) {
	var resp transactionResponse
	err := c.post(ctx, RouteAppendExtraData, appendExtraDataRequest{
		TransactionHex: unsignedTransactionHex,
		ExtraData: map[string]string{
			ExtraDataDerivedPublicKey: compressedDerivedPublicKey,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TransactionHex == "" {
		return "", fmt.Errorf("%w: %s returned no transaction", interfaces.ErrChainAPIFailure, RouteAppendExtraData)
	}
	return resp.TransactionHex, nil
}

type submitTransactionRequest struct {
	TransactionHex string `json:"TransactionHex"`
}

// SubmitTransaction broadcasts a signed transaction.
func (c *Client) SubmitTransaction(ctx context.Context, signedTransactionHex string) (interfaces.SubmitAck, error) {
	var ack interfaces.SubmitAck
	if err := c.post(ctx, RouteSubmitTransaction, submitTransactionRequest{TransactionHex: signedTransactionHex}, &ack); err != nil {
		return interfaces.SubmitAck{}, err
	}
	c.log.Info("Submitted transaction", slog.String("txnHash", ack.TxnHashHex))
	return ack, nil
}

type getUserDerivedKeysRequest struct {
	PublicKeyBase58Check string `json:"PublicKeyBase58Check"`
}

type getUserDerivedKeysResponse struct {
	DerivedKeys map[string]interfaces.DerivedKeyEntry `json:"DerivedKeys"`
}

// GetDerivedKeys returns the derived keys of rootPublicKey keyed by derived public key.
func (c *Client) GetDerivedKeys(ctx context.Context, rootPublicKey string) (map[string]interfaces.DerivedKeyEntry, error) {
	var resp getUserDerivedKeysResponse
	if err := c.post(ctx, RouteGetUserDerivedKeys, getUserDerivedKeysRequest{PublicKeyBase58Check: rootPublicKey}, &resp); err != nil {
		return nil, err
	}
	if resp.DerivedKeys == nil {
		return map[string]interfaces.DerivedKeyEntry{}, nil
	}
	return resp.DerivedKeys, nil
}

type appStateResponse struct {
	BlockHeight uint64 `json:"BlockHeight"`
}

// GetBlockHeight returns the node's current block height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var resp appStateResponse
	if err := c.post(ctx, RouteGetAppState, struct{}{}, &resp); err != nil {
		return 0, err
	}
	if resp.BlockHeight == 0 {
		return 0, fmt.Errorf("%w: %s returned no block height", interfaces.ErrChainAPIFailure, RouteGetAppState)
	}
	return resp.BlockHeight, nil
}
