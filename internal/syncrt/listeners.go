package syncrt

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"widget-sync-engine/internal/changelog"
	"widget-sync-engine/internal/session"
	"widget-sync-engine/redis"
)

// AuthEvent mirrors the identity provider's signed-in/signed-out stream.
type AuthEvent struct {
	UserID   string `json:"user_id"`
	SignedIn bool   `json:"signed_in"`
}

// pubsubListener owns one redis subscription plus the goroutine draining it.
type pubsubListener struct {
	closeOnce sync.Once
	closeFn   func() error
	done      chan struct{}
}

func (l *pubsubListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.closeFn()
		<-l.done
	})
	return err
}

// subscribe opens the channel subscription and pumps decoded payloads into
// the handler. Handler panics are caught at the call site so one
// misbehaving subscriber can't kill the pump.
func subscribe[T any](ctx context.Context, cache *redis.Cache, channel string, handler func(T)) (io.Closer, error) {
	sub, err := cache.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}

	listener := &pubsubListener{
		closeFn: sub.Close,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(listener.done)
		for msg := range sub.Channel() {
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Printf("Dropping undecodable message on %s: %v", channel, err)
				continue
			}
			deliver(channel, handler, payload)
		}
	}()

	return listener, nil
}

func deliver[T any](channel string, handler func(T), payload T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Listener handler for %s panicked: %v", channel, rec)
		}
	}()
	handler(payload)
}

// ChangeStreamListener subscribes to a widget's change channel.
func ChangeStreamListener(cache *redis.Cache, widgetID string, handler func(changelog.Event)) ListenerFactory {
	return func(ctx context.Context) (io.Closer, error) {
		return subscribe(ctx, cache, redis.ChangeChannel(widgetID), handler)
	}
}

// SessionStreamListener subscribes to a widget's session lifecycle channel.
func SessionStreamListener(cache *redis.Cache, widgetID string, handler func(session.Event)) ListenerFactory {
	return func(ctx context.Context) (io.Closer, error) {
		return subscribe(ctx, cache, redis.SessionChannel(widgetID), handler)
	}
}

// AuthStateListener follows the identity provider's auth-state stream and
// keeps the runtime's subject current: a signed-in user becomes the
// subject, a sign-out clears it.
func AuthStateListener(cache *redis.Cache, runtime *Runtime) ListenerFactory {
	return func(ctx context.Context) (io.Closer, error) {
		return subscribe(ctx, cache, redis.AuthStateChannel(), func(event AuthEvent) {
			if event.SignedIn {
				runtime.SetSubject(event.UserID)
			} else {
				runtime.SetSubject("")
			}
		})
	}
}
