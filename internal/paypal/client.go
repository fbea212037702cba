// Package paypal предоставляет клиент проверки подлинности IPN-уведомлений PayPal.
package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом проверки IPN.
type Client struct {
	verifyURL  string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент проверки IPN по указанному адресу.
func NewClient(verifyURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &Client{
		verifyURL:  strings.TrimRight(verifyURL, "/"),
		httpClient: c,
	}
}

// VerifyIPN отправляет тело уведомления обратно в PayPal с командой
// _notify-validate и возвращает признак подлинности.
func (c *Client) VerifyIPN(ctx context.Context, body []byte) (bool, error) {
	if c == nil || c.verifyURL == "" {
		return false, fmt.Errorf("paypal client not configured")
	}

	payload := append([]byte("cmd=_notify-validate&"), body...)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, payload)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	return strings.TrimSpace(string(respBody)) == "VERIFIED", nil
}
