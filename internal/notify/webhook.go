package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
)

// WebhookGateway posts each Envelope as JSON to a fixed URL.
type WebhookGateway struct {
	client *resty.Client
	url    string
}

// NewWebhookGateway returns a gateway posting to url. secret, when set, is
// sent as a bearer token.
func NewWebhookGateway(url, secret string, timeout time.Duration, retries int) *WebhookGateway {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if secret != "" {
		client.SetAuthToken(secret)
	}
	return &WebhookGateway{client: client, url: url}
}

func (g *WebhookGateway) Name() string { return "webhook" }

func (g *WebhookGateway) Notify(ctx context.Context, e domain.Emergency, kind Kind, payload map[string]any) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(NewEnvelope(e, kind, payload)).
		Post(g.url)
	if err != nil {
		return apperr.External("webhook", err)
	}
	if resp.IsError() {
		return apperr.External("webhook", fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	return nil
}
