package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Webhook events, one per alert level.
const (
	EventBackfillCompleted = "backfill.completed"
	EventBackfillPartial   = "backfill.partial"
	EventBackfillAborted   = "backfill.aborted"
)

// Headers set on every webhook delivery.
const (
	HeaderJobID     = "X-Billsync-Job"
	HeaderTimestamp = "X-Billsync-Timestamp"
	HeaderSignature = "X-Signature-256"
)

// WebhookNotifier posts backfill completion events to an HTTP endpoint.
//
// With a secret, the body is signed as HMAC-SHA256 over "<timestamp>.<body>",
// where timestamp is the Unix seconds sent in HeaderTimestamp. Receivers
// should reject stale timestamps and may dedupe on HeaderJobID.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier. An empty secret sends unsigned requests.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	sent := w.now().UTC()
	body, err := json.Marshal(webhookEvent{
		Event:     eventFor(alert.Level),
		Timestamp: sent.Format(time.RFC3339),
		Alert:     alert,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billsync/1.0")
	if alert.JobID != "" {
		req.Header.Set(HeaderJobID, alert.JobID)
	}
	if w.secret != "" {
		ts := strconv.FormatInt(sent.Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, "sha256="+SignWebhook(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook for job %s: %w", alert.JobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// SignWebhook returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func SignWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookEvent struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Alert     Alert  `json:"alert"`
}

func eventFor(level AlertLevel) string {
	switch level {
	case AlertCritical:
		return EventBackfillAborted
	case AlertWarning:
		return EventBackfillPartial
	default:
		return EventBackfillCompleted
	}
}
