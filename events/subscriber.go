// Package events turns read-model update notices published on Redis into
// cache refreshes and remote sign-outs for the signed-in user.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-client/domain"
	"prism-client/session"
)

const defaultReconnectDelay = time.Second

// Cache is the part of the mutation controller driven by update notices.
type Cache interface {
	Refresh(ctx context.Context, kind domain.Kind, id string) error
	Invalidate(kind domain.Kind, id string)
}

// Sessions exposes the active identity.
type Sessions interface {
	Current() (session.Session, bool)
	SignOut(reason string)
}

// Subscriber listens on the read-model updates channel.
type Subscriber struct {
	rc       *redis.Client
	channel  string
	cache    Cache
	sessions Sessions
	logger   *log.Logger

	reconnectDelay time.Duration
}

// NewSubscriber creates a subscriber for channel.
func NewSubscriber(rc *redis.Client, channel string, cache Cache, sessions Sessions, logger *log.Logger) *Subscriber {
	return &Subscriber{
		rc:             rc,
		channel:        channel,
		cache:          cache,
		sessions:       sessions,
		logger:         logger,
		reconnectDelay: defaultReconnectDelay,
	}
}

// Run blocks until ctx is cancelled, resubscribing whenever the pub/sub
// channel closes.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		sub := s.rc.Subscribe(ctx, s.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				if err := s.Handle(ctx, []byte(msg.Payload)); err != nil {
					s.logger.WithError(err).WithField("channel", s.channel).Error("events.handle")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.WithField("channel", s.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// Handle applies one update notice.
func (s *Subscriber) Handle(ctx context.Context, payload []byte) error {
	var ev domain.Event
	if err := sonic.ConfigStd.Unmarshal(payload, &ev); err != nil {
		return err
	}
	cur, ok := s.sessions.Current()
	if !ok || (ev.UserID != "" && ev.UserID != cur.Subject) {
		return nil
	}
	entry := s.logger.WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityType, "id": ev.EntityID})

	switch ev.Type {
	case domain.EventUserLoggedOut:
		entry.Info("events.remote_sign_out")
		s.sessions.SignOut("signed out elsewhere")
		return nil
	case domain.EventUserLoggedIn, domain.EventUserSettingsUpdated:
		return nil
	}

	kind, err := domain.ParseKind(ev.EntityType)
	if err != nil {
		entry.Debug("events.ignored")
		return nil
	}
	if ev.EntityID == "" {
		return errors.New("update without entity id")
	}
	if ev.IsDeletion() {
		entry.Debug("events.invalidate")
		s.cache.Invalidate(kind, ev.EntityID)
		return nil
	}
	entry.Debug("events.refresh")
	return s.cache.Refresh(ctx, kind, ev.EntityID)
}
