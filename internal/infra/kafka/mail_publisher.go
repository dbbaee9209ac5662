package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
	"github.com/arklim/passwordless-auth/internal/infra/logger"
)

const (
	schemaVersion = "1.0"
	// MailTopic carries every outbound mail kind; the envelope names the template.
	MailTopic = "mail.outbound"
)

// MailPublisher implements port.MailQueue on top of Kafka.
type MailPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

var _ port.MailQueue = (*MailPublisher)(nil)

func NewMailPublisher(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *MailPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailPublisher{producer: producer, appCfg: appCfg, logger: log}
}

type envelopeMetadata map[string]string

type mailEnvelope struct {
	MessageID string           `json:"message_id"`
	Kind      domain.MailKind  `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type loginCodePayload struct {
	ChallengeID   string    `json:"challenge_id"`
	Email         string    `json:"email"`
	EncryptedCode string    `json:"encrypted_code"`
	ExpiresAt     time.Time `json:"expires_at"`
	RequestedAt   time.Time `json:"requested_at"`
}

type tokenRotationPayload struct {
	AccountID       string    `json:"account_id"`
	Email           string    `json:"email"`
	PreviousTokenID string    `json:"previous_token_id"`
	PreviousPrefix  string    `json:"previous_prefix"`
	NewTokenID      string    `json:"new_token_id"`
	NewPrefix       string    `json:"new_prefix"`
	RotatedBy       string    `json:"rotated_by,omitempty"`
	RotatedAt       time.Time `json:"rotated_at"`
}

func (p *MailPublisher) publish(ctx context.Context, messageID string, kind domain.MailKind, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	bytes, err := json.Marshal(mailEnvelope{
		MessageID: messageID,
		Kind:      kind,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   body,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal mail envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(MailTopic),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(kind)},
		},
	}

	select {
	case p.producer.Producer().Input() <- message:
		p.logger.Debug("mail enqueued",
			zap.String("message_id", messageID),
			zap.String("kind", string(kind)),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueLoginCode publishes the encrypted code; the plaintext never reaches the broker.
func (p *MailPublisher) EnqueueLoginCode(ctx context.Context, m domain.LoginCodeMail) error {
	payload := loginCodePayload{
		ChallengeID:   m.ChallengeID,
		Email:         m.Email,
		EncryptedCode: m.EncryptedCode,
		ExpiresAt:     m.ExpiresAt.UTC(),
		RequestedAt:   m.RequestedAt.UTC(),
	}
	return p.publish(ctx, m.MessageID, domain.MailKindLoginCode, m.Email, m.RequestedAt, payload)
}

func (p *MailPublisher) EnqueueTokenRotation(ctx context.Context, m domain.TokenRotationMail) error {
	payload := tokenRotationPayload{
		AccountID:       m.AccountID,
		Email:           m.Email,
		PreviousTokenID: m.PreviousTokenID,
		PreviousPrefix:  m.PreviousPrefix,
		NewTokenID:      m.NewTokenID,
		NewPrefix:       m.NewPrefix,
		RotatedBy:       m.RotatedBy,
		RotatedAt:       m.RotatedAt.UTC(),
	}
	return p.publish(ctx, m.MessageID, domain.MailKindTokenRotation, m.AccountID, m.RotatedAt, payload)
}
