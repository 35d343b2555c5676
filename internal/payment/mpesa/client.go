// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package mpesa is a client for the Safaricom Daraja STK push API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/lanconnect/lanconnect/internal/payment"
)

const (
	// SandboxURL is the Daraja sandbox base URL.
	SandboxURL = "https://sandbox.safaricom.co.ke"

	defaultTimeout         = 30 * time.Second
	defaultTransactionType = "CustomerPayBillOnline"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// timestampLayout is the yyyyMMddHHmmss form Daraja signs passwords with.
	timestampLayout = "20060102150405"

	// tokenSkew renews the access token this long before Daraja expires it.
	tokenSkew = time.Minute

	// errCodeProcessing is returned by the query endpoint while the customer
	// has not answered the prompt.
	errCodeProcessing = "500.001.1001"

	maxErrorBody = 4 << 10
)

// nairobi is East Africa Time. Daraja rejects timestamps in other zones.
var nairobi = time.FixedZone("EAT", 3*60*60)

// Config configures a Client.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	Timeout         time.Duration

	// TokenRetries bounds retries of the OAuth token request.
	TokenRetries uint64

	HTTPClient *http.Client
	Now        func() time.Time
}

// Client implements payment.MpesaGateway against Daraja.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a Client. ConsumerKey, ConsumerSecret, ShortCode, PassKey and
// CallbackURL are required.
func New(cfg Config) (*Client, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"consumer_key", cfg.ConsumerKey},
		{"consumer_secret", cfg.ConsumerSecret},
		{"short_code", cfg.ShortCode},
		{"pass_key", cfg.PassKey},
		{"callback_url", cfg.CallbackURL},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, oops.Code("MPESA_CONFIG_INVALID").With("missing", missing).Errorf("mpesa configuration incomplete")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionType == "" {
		cfg.TransactionType = defaultTransactionType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TokenRetries == 0 {
		cfg.TokenRetries = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// Password returns the STK password: base64(shortCode + passKey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// apiError is the error body Daraja returns on non-2xx responses.
type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// StatusError is a non-2xx Daraja response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daraja: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("daraja: status %d: %s", e.StatusCode, e.Message)
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type queryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// STKPush sends a payment prompt to the customer's handset.
func (c *Client) STKPush(ctx context.Context, req payment.STKPushRequest) (*payment.STKPushResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	timestamp := c.timestamp()
	body := pushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.AccountReference, 12),
		TransactionDesc:   truncate(req.Description, 13),
	}

	var resp pushResponse
	if err := c.postJSON(ctx, pushPath, token, body, &resp); err != nil {
		return nil, oops.Code("MPESA_STK_PUSH_FAILED").With("phone", req.Phone).Wrap(err)
	}
	if resp.ResponseCode != "0" {
		return nil, oops.Code("MPESA_STK_PUSH_REJECTED").
			With("response_code", resp.ResponseCode).
			Errorf("stk push rejected: %s", resp.ResponseDescription)
	}
	slog.DebugContext(ctx, "stk push accepted",
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID)
	return &payment.STKPushResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		ResponseCode:      resp.ResponseCode,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QuerySTK reports the state of a checkout request. A request the customer
// has not yet answered is reported as Pending.
func (c *Client) QuerySTK(ctx context.Context, checkoutRequestID string) (*payment.STKQueryResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	timestamp := c.timestamp()
	body := queryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp queryResponse
	err = c.postJSON(ctx, queryPath, token, body, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == errCodeProcessing {
		return &payment.STKQueryResult{Pending: true, ResultDesc: statusErr.Message}, nil
	}
	if err != nil {
		return nil, oops.Code("MPESA_STK_QUERY_FAILED").With("checkout_request_id", checkoutRequestID).Wrap(err)
	}
	return &payment.STKQueryResult{ResultCode: resp.ResultCode, ResultDesc: resp.ResultDesc}, nil
}

// accessToken returns a cached OAuth token, fetching a new one when the
// cached token is missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.cfg.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var tok tokenResponse
	backoff := retry.WithMaxRetries(c.cfg.TokenRetries, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		fetched, err := c.fetchToken(ctx)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
				return err
			}
			return retry.RetryableError(err)
		}
		tok = *fetched
		return nil
	})
	if err != nil {
		return "", oops.Code("MPESA_AUTH_FAILED").Wrap(err)
	}

	expiresIn, convErr := tok.ExpiresIn.Int64()
	if convErr != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	c.token = tok.AccessToken
	c.tokenExpiry = c.cfg.Now().Add(time.Duration(expiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var tok tokenResponse
	if err := c.do(req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("daraja: empty access token")
	}
	return &tok, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort error detail
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var apiErr apiError
		if json.Unmarshal(b, &apiErr) == nil && apiErr.ErrorCode != "" {
			statusErr.Code = apiErr.ErrorCode
			statusErr.Message = apiErr.ErrorMessage
		}
		return statusErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("daraja: decode response: %w", err)
	}
	return nil
}

func (c *Client) timestamp() string {
	return c.cfg.Now().In(nairobi).Format(timestampLayout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ payment.MpesaGateway = (*Client)(nil)
