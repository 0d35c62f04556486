package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const retryHeader = "x-retries"

// RetryCount reads how many times a delivery has been sent back through the
// retry queue.
func RetryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// PublishRetry parks body on queue.retry; once delay expires the broker
// dead-letters it back to queue.
func PublishRetry(ctx context.Context, ch *amqp.Channel, queue string, body []byte, attempt int, delay time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(cctx,
		"",
		queue+".retry",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
			Headers:      amqp.Table{retryHeader: int32(attempt)},
		},
	)
}
