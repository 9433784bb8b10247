package services

import (
	"context"
	"log/slog"

	"budgettracker/internal/amqp"
	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

// Publisher sends record change events.
type Publisher interface {
	PublishRecordChanged(ctx context.Context, msg *amqp.RecordChangedMessage) error
}

// PublishingStore announces every successful write on the wrapped store.
// The write is the source of truth: a failed publish is logged and dropped.
type PublishingStore[T core.Record] struct {
	store.Store[T]
	collection string
	publisher  Publisher
}

func NewPublishingStore[T core.Record](inner store.Store[T], collection string, publisher Publisher) *PublishingStore[T] {
	return &PublishingStore[T]{Store: inner, collection: collection, publisher: publisher}
}

func (s *PublishingStore[T]) Create(ctx context.Context, record T) (T, error) {
	created, err := s.Store.Create(ctx, record)
	if err != nil {
		return created, err
	}
	s.publish(ctx, created.RecordID(), created.RecordOwner(), amqp.ActionCreated)
	return created, nil
}

func (s *PublishingStore[T]) Update(ctx context.Context, id string, record T) error {
	if err := s.Store.Update(ctx, id, record); err != nil {
		return err
	}
	s.publish(ctx, id, record.RecordOwner(), amqp.ActionUpdated)
	return nil
}

func (s *PublishingStore[T]) Delete(ctx context.Context, id, ownerID string) error {
	if err := s.Store.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	s.publish(ctx, id, ownerID, amqp.ActionDeleted)
	return nil
}

func (s *PublishingStore[T]) publish(ctx context.Context, id, ownerID string, action amqp.Action) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewRecordChangedMessage(s.collection, id, ownerID, action)
	if err := s.publisher.PublishRecordChanged(context.WithoutCancel(ctx), msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish record changed message",
			"collection", s.collection,
			"record_id", id,
			"action", action,
			"error", err)
	}
}
