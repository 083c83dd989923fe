package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	amqp "github.com/rabbitmq/amqp091-go"
)

// LabelPublisher feeds the frames.label queue. Delayed retries go through a
// wait queue whose dead-letter target is the label routing key: the message
// expires after its per-message TTL and RabbitMQ moves it back onto
// frames.label, so every scheduled retry is visible in the broker.
type LabelPublisher struct {
	pub        *Publisher
	routingKey string
	waitQueue  string
}

func NewLabelPublisher(pub *Publisher, routingKey, waitQueue string) (*LabelPublisher, error) {
	_, err := pub.channel.QueueDeclare(waitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    pub.exchange,
		"x-dead-letter-routing-key": routingKey,
	})
	if err != nil {
		return nil, fmt.Errorf("declare wait queue %s: %w", waitQueue, err)
	}

	return &LabelPublisher{
		pub:        pub,
		routingKey: routingKey,
		waitQueue:  waitQueue,
	}, nil
}

func (lp *LabelPublisher) EnqueueLabel(ctx context.Context, msg entity.LabelFrameMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal label message: %w", err)
	}

	return lp.pub.channel.PublishWithContext(ctx,
		lp.pub.exchange,
		lp.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

func (lp *LabelPublisher) ScheduleRetry(ctx context.Context, msg entity.LabelFrameMessage, delay time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal label message: %w", err)
	}

	return lp.pub.channel.PublishWithContext(ctx,
		"",
		lp.waitQueue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		},
	)
}
