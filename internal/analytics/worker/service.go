package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/modoria-backend/internal/analytics/router"
	"github.com/angelmondragon/modoria-backend/internal/analytics/types"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
	"github.com/angelmondragon/modoria-backend/pkg/logger"
	"github.com/angelmondragon/modoria-backend/pkg/outbox/registry"
)

// ConsumerName scopes the worker's idempotency claims.
const ConsumerName = "analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

// eventFilter lets a handler decline event types before a claim is taken.
type eventFilter interface {
	Supports(enums.OutboxEventType) bool
}

type subscription interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Service feeds the analytics subscription into the row router. Each event
// is claimed once; a failed handler releases the claim and nacks so Pub/Sub
// redelivers it.
type Service struct {
	subscription subscription
	handler      Handler
	claims       claimer
	logg         *logger.Logger
}

func NewService(sub subscription, handler Handler, claims claimer, logg *logger.Logger) (*Service, error) {
	if typed, ok := sub.(*gcppubsub.Subscriber); sub == nil || (ok && typed == nil) {
		return nil, errors.New("analytics subscription is required")
	}
	switch {
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case claims == nil:
		return nil, errors.New("idempotency guard is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: sub, handler: handler, claims: claims, logg: logg}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether msg should be acked.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	delivery, err := registry.ParseDelivery(msg.Data, msg.Attributes)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable analytics message")
		return true
	}
	logCtx = s.logg.WithFields(logCtx, delivery.Fields())

	if filter, ok := s.handler.(eventFilter); ok && !filter.Supports(delivery.EventType) {
		return true
	}

	id := delivery.EventID.String()
	fresh, err := s.claims.Claim(logCtx, id)
	switch {
	case err != nil:
		s.logg.Error(logCtx, "idempotency check failed", err)
		return false
	case !fresh:
		s.logg.Info(logCtx, "event already processed")
		return true
	}

	err = s.handler.Handle(logCtx, envelopeOf(delivery))
	switch {
	case err == nil:
		s.logg.Info(logCtx, "analytics event handled")
		return true
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Info(logCtx, "event type not tracked by analytics")
		return true
	}
	s.logg.Error(logCtx, "analytics handler failed", err)
	if relErr := s.claims.Release(logCtx, id); relErr != nil {
		s.logg.Error(logCtx, "failed to release idempotency key", relErr)
	}
	return false
}

func envelopeOf(d registry.Delivery) types.Envelope {
	return types.Envelope{
		EventID:       d.EventID.String(),
		EventType:     d.EventType,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		OccurredAt:    d.OccurredAt,
		Payload:       d.Envelope.Data,
	}
}
