// Package webhooks delivers signed plan callbacks to client URLs.
package webhooks

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "sync"
    "time"

    "github.com/google/uuid"
    log "github.com/sirupsen/logrus"

    "carrierplan/internal/metrics"
)

// Event is the callback body.
type Event struct {
    ID       string `json:"id"`
    Type     string `json:"type"`
    TenantID string `json:"tenantId"`
    TS       string `json:"ts"`
    Data     any    `json:"data"`
}

func NewEvent(tenantID, eventType string, data any) Event {
    return Event{ID: "evt_" + uuid.New().String(), Type: eventType, TenantID: tenantID, TS: time.Now().UTC().Format(time.RFC3339), Data: data}
}

// Notifier posts events with retries and exponential backoff.
type Notifier struct {
    HTTP        *http.Client
    MaxAttempts int
    Backoff     func(attempt int) time.Duration
    log         *log.Entry
    wg          sync.WaitGroup
}

func NewNotifier(maxAttempts int) *Notifier {
    if maxAttempts <= 0 { maxAttempts = 5 }
    return &Notifier{
        HTTP:        &http.Client{Timeout: 5 * time.Second},
        MaxAttempts: maxAttempts,
        Backoff:     nextBackoff,
        log:         log.WithField("component", "webhooks"),
    }
}

// Deliver posts evt to url until a 2xx answer, MaxAttempts, or ctx is done.
func (n *Notifier) Deliver(ctx context.Context, url, secret string, evt Event) error {
    body, err := json.Marshal(evt)
    if err != nil { return fmt.Errorf("webhook %s: encode: %w", evt.Type, err) }
    var lastErr error
    for attempt := 0; attempt < n.MaxAttempts; attempt++ {
        if attempt > 0 {
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(n.Backoff(attempt - 1)):
            }
        }
        code, err := n.post(ctx, url, secret, evt.Type, body)
        if err == nil && code >= 200 && code < 300 {
            metrics.WebhookDeliveries.WithLabelValues(evt.Type, "delivered").Inc()
            return nil
        }
        if err == nil { err = fmt.Errorf("status %d", code) }
        lastErr = err
        n.log.Debugf("[webhooks] %s to %s attempt %d: %v", evt.Type, url, attempt+1, err)
    }
    metrics.WebhookDeliveries.WithLabelValues(evt.Type, "failed").Inc()
    return fmt.Errorf("webhook %s: giving up after %d attempts: %w", evt.Type, n.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, url, secret, eventType string, body []byte) (int, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
    if err != nil { return 0, err }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", eventType)
    if secret != "" { req.Header.Set("X-Signature", SignHMAC(secret, body)) }
    resp, err := n.HTTP.Do(req)
    if err != nil { return 0, err }
    _ = resp.Body.Close()
    return resp.StatusCode, nil
}

// Go delivers in the background; Wait blocks until every background delivery ends.
func (n *Notifier) Go(url, secret string, evt Event) {
    n.wg.Add(1)
    go func() {
        defer n.wg.Done()
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
        defer cancel()
        if err := n.Deliver(ctx, url, secret, evt); err != nil {
            n.log.Warnf("[webhooks] %v", err)
        }
    }()
}

func (n *Notifier) Wait() { n.wg.Wait() }

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Minute { base = time.Minute }
    return base
}
