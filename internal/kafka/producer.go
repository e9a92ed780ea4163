package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	topicAuthLogin         = "auth.login"
	topicAuthTokenRevoked  = "auth.token_revoked"
	topicAuthBannedRequest = "auth.banned_request"
)

// authEvent is the Kafka message payload for auth lifecycle events.
type authEvent struct {
	UserID    int64  `json:"user_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail,omitempty"`
}

// Producer wraps kafka-go writers for the auth event topics.
type Producer struct {
	loginWriter         *kafka.Writer
	tokenRevokedWriter  *kafka.Writer
	bannedRequestWriter *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return &Producer{
		loginWriter:         newWriter(topicAuthLogin),
		tokenRevokedWriter:  newWriter(topicAuthTokenRevoked),
		bannedRequestWriter: newWriter(topicAuthBannedRequest),
	}
}

// PublishLogin sends an auth.login event. Intended to be called in a goroutine.
func (p *Producer) PublishLogin(ctx context.Context, userID int64) {
	p.publish(ctx, p.loginWriter, userID, "auth.login", "")
}

// PublishTokenRevoked sends an auth.token_revoked event (logout/revoke).
func (p *Producer) PublishTokenRevoked(ctx context.Context, userID int64, guid string) {
	p.publish(ctx, p.tokenRevokedWriter, userID, "auth.token_revoked", guid)
}

// PublishBannedRequest sends an auth.banned_request event for a banned
// request. RequestGate does not call it; no code in this service does.
func (p *Producer) PublishBannedRequest(ctx context.Context, userID int64, reason string) {
	p.publish(ctx, p.bannedRequestWriter, userID, "auth.banned_request", reason)
}

func (p *Producer) publish(ctx context.Context, w *kafka.Writer, userID int64, eventType, detail string) {
	payload, err := json.Marshal(authEvent{
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Detail:    detail,
	})
	if err != nil {
		log.Printf("[kafka] failed to marshal event %s: %v", eventType, err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(eventType),
		Value: payload,
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		log.Printf("[kafka] failed to publish %s for user %d: %v", eventType, userID, err)
	}
}

func (p *Producer) Close() {
	if err := p.loginWriter.Close(); err != nil {
		log.Printf("[kafka] error closing login writer: %v", err)
	}
	if err := p.tokenRevokedWriter.Close(); err != nil {
		log.Printf("[kafka] error closing token-revoked writer: %v", err)
	}
	if err := p.bannedRequestWriter.Close(); err != nil {
		log.Printf("[kafka] error closing banned-request writer: %v", err)
	}
}
