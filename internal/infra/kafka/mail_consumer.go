package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
	"github.com/arklim/passwordless-auth/internal/infra/config"
)

// MailConsumer decodes mail envelopes and hands them to the delivery pipeline.
type MailConsumer struct {
	delivery port.MailQueue
	logger   *zap.Logger
	topic    string
}

var _ sarama.ConsumerGroupHandler = (*MailConsumer)(nil)

func NewMailConsumer(delivery port.MailQueue, cfg config.KafkaSettings, log *zap.Logger) *MailConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailConsumer{
		delivery: delivery,
		logger:   log,
		topic:    topicName(cfg.TopicPrefix, MailTopic),
	}
}

// Topic is the fully prefixed mail topic.
func (c *MailConsumer) Topic() string {
	return c.topic
}

// HandleMessage decodes a Kafka message prior to delivery.
func (c *MailConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return errors.New("message is nil")
	}

	var envelope mailEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode mail envelope: %w", err)
	}

	switch envelope.Kind {
	case domain.MailKindLoginCode:
		var payload loginCodePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return fmt.Errorf("decode login code payload: %w", err)
		}
		return c.delivery.EnqueueLoginCode(ctx, domain.LoginCodeMail{
			MessageID:     envelope.MessageID,
			ChallengeID:   payload.ChallengeID,
			Email:         payload.Email,
			EncryptedCode: payload.EncryptedCode,
			ExpiresAt:     payload.ExpiresAt,
			RequestedAt:   payload.RequestedAt,
		})
	case domain.MailKindTokenRotation:
		var payload tokenRotationPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return fmt.Errorf("decode token rotation payload: %w", err)
		}
		return c.delivery.EnqueueTokenRotation(ctx, domain.TokenRotationMail{
			MessageID:       envelope.MessageID,
			AccountID:       payload.AccountID,
			Email:           payload.Email,
			PreviousTokenID: payload.PreviousTokenID,
			PreviousPrefix:  payload.PreviousPrefix,
			NewTokenID:      payload.NewTokenID,
			NewPrefix:       payload.NewPrefix,
			RotatedBy:       payload.RotatedBy,
			RotatedAt:       payload.RotatedAt,
		})
	default:
		return fmt.Errorf("unknown mail kind %q", envelope.Kind)
	}
}

func (c *MailConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *MailConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message once handled. Undeliverable messages are
// logged and skipped so a single bad payload cannot stall the partition.
func (c *MailConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Error("mail delivery failed",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// RunMailWorker joins the consumer group and consumes until ctx is cancelled.
func RunMailWorker(ctx context.Context, cfg config.KafkaSettings, consumer *MailConsumer, log *zap.Logger) error {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			log.Warn("close consumer group", zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			log.Error("mail consumer group error", zap.Error(err))
		}
	}()

	log.Info("mail worker started",
		zap.String("topic", consumer.Topic()),
		zap.String("group", cfg.ConsumerGroup),
	)

	for {
		if err := group.Consume(ctx, []string{consumer.Topic()}, consumer); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error("mail consumer session ended", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
