package kcwater

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/watermetrics/kcwater-usage-worker/internal/config"
	"github.com/watermetrics/kcwater-usage-worker/tools/readtime"
	"go.uber.org/zap"
)

// basicAuthHeader is the fixed client credential the web portal sends to the
// token endpoint ("webClientIdPassword:secret").
const basicAuthHeader = "Basic d2ViQ2xpZW50SWRQYXNzd29yZDpzZWNyZXQ="

const defaultPort = 1

// Client talks to the KC Water customer API. It owns the cached session and
// replaces it atomically on renewal; callers are expected to serialize
// invocations per account, so no locking is done here.
type Client struct {
	username        string
	password        string
	tokenURL        string
	customerInfoURL string
	hourlyUsageURL  string
	timeout         time.Duration
	loc             *time.Location
	httpClient      *http.Client
	logger          *zap.Logger
	now             func() time.Time

	session *session
}

// NewClient creates a new API client from configuration.
func NewClient(cfg config.KCWaterConfig, logger *zap.Logger) (*Client, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	return &Client{
		username:        cfg.Username,
		password:        cfg.Password,
		tokenURL:        cfg.TokenURL,
		customerInfoURL: cfg.CustomerInfoURL,
		hourlyUsageURL:  cfg.HourlyUsageURL,
		timeout:         cfg.RequestTimeout,
		loc:             loc,
		httpClient:      &http.Client{},
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Location returns the reference timezone all readings are localized to.
func (c *Client) Location() *time.Location {
	return c.loc
}

// AccountNumber returns the account number for the configured credentials,
// logging in first if no valid session exists.
func (c *Client) AccountNumber(ctx context.Context) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	return c.session.Context.AccountNumber, nil
}

// ensureSession makes sure a valid session is cached. It performs no network
// round-trip while the cached token expiry is strictly after now in the
// reference timezone.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.session != nil && c.session.TokenExpiry.After(c.now().In(c.loc)) {
		c.logger.Debug("token is still valid")
		return nil
	}

	c.logger.Debug("logging in", zap.String("username", c.username))

	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"grant_type": {"password"},
	}

	var token tokenResponse
	err := c.doRequest(ctx, c.tokenURL, requestOptions{
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		authHeader:  basicAuthHeader,
	}, &token)
	if err != nil {
		return err
	}

	var info customerInfoResponse
	err = c.doRequest(ctx, c.customerInfoURL, requestOptions{
		body:        jsonBody(customerInfoRequest{CustomerID: token.User.CustomerID}),
		contentType: "application/json",
		authHeader:  "Bearer " + token.AccessToken,
	}, &info)
	if err != nil {
		return err
	}

	if len(info.AccountSummaryType.Services) == 0 {
		return newClientError("customer info contains no services", nil)
	}

	c.session = &session{
		CustomerID:  token.User.CustomerID,
		AccessToken: token.AccessToken,
		TokenExpiry: c.now().In(c.loc).Add(time.Duration(token.ExpiresIn) * time.Second),
		Context: AccountContext{
			AccountNumber: info.AccountContext.AccountNumber,
			ServiceID:     info.AccountSummaryType.Services[0].ServiceID,
			Port:          defaultPort,
		},
	}

	c.logger.Debug("session established",
		zap.String("account_number", c.session.Context.AccountNumber),
		zap.Time("token_expiry", c.session.TokenExpiry),
	)

	return nil
}

// FetchReadings fetches hourly readings for whole days from start up to but
// excluding end, one request per day. A failing day propagates its error; no
// partial-day suppression happens here.
func (c *Client) FetchReadings(ctx context.Context, start, end time.Time) ([]Reading, error) {
	days := readtime.DaysBetween(start, end)
	c.logger.Debug("fetching readings",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("days", days),
	)

	var readings []Reading
	for i := 0; i < days; i++ {
		// Re-validate the session each day; a renewal on an unexpired
		// token is a no-op.
		if err := c.ensureSession(ctx); err != nil {
			return nil, err
		}

		queryDay := readtime.FormatQueryDay(start.AddDate(0, 0, i))
		c.logger.Debug("fetching usage for day", zap.String("day", queryDay))

		payload := usageRequest{
			CustomerID: c.session.CustomerID,
			AccountContext: usageRequestAccount{
				AccountNumber: c.session.Context.AccountNumber,
				ServiceID:     c.session.Context.ServiceID,
			},
			Day:  queryDay,
			Port: strconv.Itoa(c.session.Context.Port),
		}

		var usage usageResponse
		err := c.doRequest(ctx, c.hourlyUsageURL, requestOptions{
			body:        jsonBody(payload),
			contentType: "application/json",
			authHeader:  "Bearer " + c.session.AccessToken,
		}, &usage)
		if err != nil {
			return nil, err
		}

		for _, item := range usage.History {
			readTime, err := readtime.ParseReadTime(item.ReadDate, item.ReadDateTime, c.loc)
			if err != nil {
				return nil, newClientError("unexpected read time in usage history", err)
			}
			readings = append(readings, Reading{
				ReadTime:       readTime,
				UOM:            item.UOM,
				MeterNumber:    item.MeterNumber,
				RawConsumption: float64(item.RawConsumption),
				Port:           item.Port,
			})
		}
	}

	return readings, nil
}

type requestOptions struct {
	body        io.Reader
	contentType string
	authHeader  string
}

// doRequest POSTs to the given URL with the per-request timeout bound and
// decodes the JSON response into out. Failures are classified into the
// authentication/communication/client taxonomy.
func (c *Client) doRequest(ctx context.Context, requestURL string, opts requestOptions, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, requestURL, opts.body)
	if err != nil {
		return newClientError("failed to build request", err)
	}
	req.Header.Set("Content-Type", opts.contentType)
	if opts.authHeader != "" {
		req.Header.Set("Authorization", opts.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return newCommunicationError("timeout fetching information", err)
		}
		return newCommunicationError("error fetching information", err)
	}
	defer resp.Body.Close()

	if err := c.verifyResponse(requestURL, resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newCommunicationError("error reading response body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newClientError("unexpected response payload", err)
	}

	return nil
}

// verifyResponse maps HTTP statuses onto the error taxonomy. A 400 from the
// token endpoint means rejected credentials, not a malformed request.
func (c *Client) verifyResponse(requestURL string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newAuthenticationError("invalid credentials", nil)
	case resp.StatusCode == http.StatusBadRequest && requestURL == c.tokenURL:
		return newAuthenticationError("invalid credentials", nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return newCommunicationError(fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, requestURL), nil)
	}
	return nil
}

func jsonBody(v any) io.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		// Request payloads are plain structs; marshaling cannot fail.
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(data)
}
