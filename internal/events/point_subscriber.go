// Package events turns completed orders and referrals published on NATS
// JetStream into point facts.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"analytics-service/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// FactRecorder persists point facts, ignoring events it has already seen
type FactRecorder interface {
	RecordFact(ctx context.Context, fact *models.PointFact) (bool, error)
}

// ScopeInvalidator drops cached store counters after new activity
type ScopeInvalidator interface {
	InvalidateScopes(ctx context.Context, tenantID string)
}

// binding ties a stream subject to the fact source it produces
type binding struct {
	stream  string
	subject string
	source  models.FactSource
}

var bindings = []binding{
	{stream: "ORDER_EVENTS", subject: "order.completed", source: models.FactSourceOrder},
	{stream: "REFERRAL_EVENTS", subject: "referral.completed", source: models.FactSourceReferral},
}

// PointEvent is the payload shared by order.completed and referral.completed
type PointEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType,omitempty"`
	TenantID  string    `json:"tenantId"`
	StoreID   uint      `json:"storeId"`
	UserID    uint      `json:"userId"`
	Points    int64     `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

// InvalidEventError marks a payload that redelivery cannot fix
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return "invalid point event: " + e.Reason
}

type PointSubscriber struct {
	nc           *nats.Conn
	js           jetstream.JetStream
	recorder     FactRecorder
	invalidator  ScopeInvalidator
	consumerName string
	logger       *logrus.Entry
}

// NewPointSubscriber connects to NATS. invalidator may be nil.
func NewPointSubscriber(natsURL, consumerPrefix string, recorder FactRecorder, invalidator ScopeInvalidator, logger *logrus.Logger) (*PointSubscriber, error) {
	log := logger.WithFields(logrus.Fields{"component": "point-subscriber", "host": hostname()})

	nc, err := nats.Connect(natsURL,
		nats.Name("analytics-service-points"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// durable name is shared by replicas so each event is consumed once
	if consumerPrefix == "" {
		consumerPrefix = "analytics-points"
	}

	return &PointSubscriber{
		nc:           nc,
		js:           js,
		recorder:     recorder,
		invalidator:  invalidator,
		consumerName: consumerPrefix,
		logger:       log,
	}, nil
}

// Start ensures the streams exist and consumes every binding in the background
func (s *PointSubscriber) Start(ctx context.Context) error {
	for _, b := range bindings {
		if err := s.ensureStream(ctx, b); err != nil {
			s.logger.WithError(err).WithField("stream", b.stream).Warn("Failed to ensure stream")
		}
		go s.consume(ctx, b)
	}

	s.logger.Info("Started listening for order.completed and referral.completed events")
	return nil
}

// Close drains the connection
func (s *PointSubscriber) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

func (s *PointSubscriber) ensureStream(ctx context.Context, b binding) error {
	prefix := strings.SplitN(b.subject, ".", 2)[0]
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.stream,
		Subjects:  []string{prefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour * 7,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	return err
}

func (s *PointSubscriber) consume(ctx context.Context, b binding) {
	log := s.logger.WithFields(logrus.Fields{"stream": b.stream, "subject": b.subject})

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("%s-%s", s.consumerName, b.source),
		FilterSubject: b.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		log.WithError(err).Error("Failed to create consumer")
		return
	}

	msgs, err := consumer.Messages()
	if err != nil {
		log.WithError(err).Error("Failed to get messages iterator")
		return
	}

	for {
		select {
		case <-ctx.Done():
			msgs.Stop()
			return
		default:
			msg, err := msgs.Next()
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("Error getting next message")
				time.Sleep(time.Second)
				continue
			}

			s.settle(ctx, msg, b.source, log)
		}
	}
}

// settle acks recorded and malformed events and naks storage failures
func (s *PointSubscriber) settle(ctx context.Context, msg jetstream.Msg, source models.FactSource, log *logrus.Entry) {
	err := s.HandleEvent(ctx, source, msg.Data())

	var invalid *InvalidEventError
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.As(err, &invalid):
		log.WithError(err).Warn("Dropping malformed point event")
		_ = msg.Ack()
	default:
		log.WithError(err).Error("Failed to record point event")
		_ = msg.Nak()
	}
}

// HandleEvent decodes one payload and records it as a fact
func (s *PointSubscriber) HandleEvent(ctx context.Context, source models.FactSource, data []byte) error {
	fact, err := DecodeFact(source, data)
	if err != nil {
		return err
	}

	created, err := s.recorder.RecordFact(ctx, fact)
	if err != nil {
		return err
	}

	log := s.logger.WithFields(logrus.Fields{
		"event_id":  fact.EventID,
		"tenant_id": fact.TenantID,
		"store_id":  fact.StoreID,
		"source":    fact.Source,
	})
	if !created {
		log.Debug("Point event already recorded")
		return nil
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateScopes(ctx, fact.TenantID)
	}
	log.WithField("points", fact.Points).Info("Recorded point fact")
	return nil
}

// DecodeFact validates a payload and builds the fact it describes
func DecodeFact(source models.FactSource, data []byte) (*models.PointFact, error) {
	var event PointEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, &InvalidEventError{Reason: err.Error()}
	}

	switch {
	case strings.TrimSpace(event.EventID) == "":
		return nil, &InvalidEventError{Reason: "eventId is required"}
	case strings.TrimSpace(event.TenantID) == "":
		return nil, &InvalidEventError{Reason: "tenantId is required"}
	case event.StoreID == 0:
		return nil, &InvalidEventError{Reason: "storeId is required"}
	case event.UserID == 0:
		return nil, &InvalidEventError{Reason: "userId is required"}
	case event.Points <= 0:
		return nil, &InvalidEventError{Reason: fmt.Sprintf("points must be positive, got %d", event.Points)}
	}

	createdAt := event.Timestamp.UTC()
	if event.Timestamp.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &models.PointFact{
		TenantID:  event.TenantID,
		StoreID:   event.StoreID,
		UserID:    event.UserID,
		Points:    event.Points,
		Source:    source,
		EventID:   fmt.Sprintf("%s:%s", source, event.EventID),
		Metadata:  datatypes.JSON(data),
		CreatedAt: createdAt,
	}, nil
}

// hostname is attached to logs so replicas can be told apart
func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
