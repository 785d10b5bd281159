package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/logger"
)

// ClientConfig configures the checkout API client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *logger.Logger
}

// Client reads checkout sessions from the payment provider. It is read-only.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        cfg.Logger,
	}
}

type sessionDTO struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CustomerEmail string `json:"customer_email"`
}

func (d sessionDTO) confirmed() bool {
	return d.PaymentStatus == "paid" || d.Status == "complete"
}

// CheckoutSession fetches a session. Unknown sessions, throttling, provider
// outages and network failures are reported as domain.ErrDependencyPending so
// the reconciler keeps polling; other client errors are terminal.
func (c *Client) CheckoutSession(ctx context.Context, sessionID string) (app.PaymentStatus, error) {
	endpoint := fmt.Sprintf("%s/checkout/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return app.PaymentStatus{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return app.PaymentStatus{}, ctx.Err()
		}
		c.log.Warn("checkout request failed", "session_id", sessionID, "error", err)
		return app.PaymentStatus{}, fmt.Errorf("%w: checkout request: %v", domain.ErrDependencyPending, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return app.PaymentStatus{}, fmt.Errorf("%w: read checkout response: %v", domain.ErrDependencyPending, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return app.PaymentStatus{SessionID: sessionID}, domain.ErrPaymentPending
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return app.PaymentStatus{}, fmt.Errorf("%w: checkout api status %d", domain.ErrDependencyPending, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return app.PaymentStatus{}, fmt.Errorf("checkout api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dto sessionDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return app.PaymentStatus{}, fmt.Errorf("parse checkout response: %w", err)
	}
	if dto.ID != "" && dto.ID != sessionID {
		return app.PaymentStatus{}, errors.New("checkout api returned a different session")
	}
	return app.PaymentStatus{
		SessionID: sessionID,
		Email:     dto.CustomerEmail,
		Confirmed: dto.confirmed(),
	}, nil
}
