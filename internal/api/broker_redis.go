package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees the progress of plans running on any other.
type RedisBroker struct {
    rdb  *redis.Client
    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(planID string) chan SSEEvent {
    ch := make(chan SSEEvent, 32)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(planID))
    // initial consume to ensure subscription
    if _, err := ps.Receive(ctx); err != nil {
        log.Warnf("[api] redis subscribe %s: %v", planID, err)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    msgs := ps.Channel()
    go func() {
        for msg := range msgs {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil { continue }
            b.mu.Lock()
            if _, live := b.subs[ch]; live {
                select { case ch <- evt: default: }
            }
            b.mu.Unlock()
        }
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(planID string, ch chan SSEEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    delete(b.subs, ch)
    if ok { close(ch) }
    b.mu.Unlock()
    if ok { _ = ps.Close() }
}

func (b *RedisBroker) Publish(planID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    if err := b.rdb.Publish(ctx, b.chanName(planID), data).Err(); err != nil {
        log.Warnf("[api] redis publish %s: %v", evt.Type, err)
    }
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(planID string) string { return "plan:" + planID }
