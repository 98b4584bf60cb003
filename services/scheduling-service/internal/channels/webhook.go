package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookSender posts chat/SMS style messages to a provider webhook.
type WebhookSender struct {
	url    string
	client *resty.Client
}

func NewWebhookSender(url string, token string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Content-Type", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookSender{url: strings.TrimSpace(url), client: client}
}

func (s *WebhookSender) ProviderID() string {
	return "messaging-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return &DispatchError{Provider: s.ProviderID(), Err: errors.New("webhook url not configured")}
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"to": msg.To, "body": msg.Body}).
		Post(s.url)
	if err != nil {
		return &DispatchError{Provider: s.ProviderID(), Err: err}
	}
	if resp.IsError() {
		return &DispatchError{Provider: s.ProviderID(), Err: fmt.Errorf("webhook returned status %d", resp.StatusCode())}
	}
	return nil
}
