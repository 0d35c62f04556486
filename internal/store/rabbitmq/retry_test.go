package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, RetryCount(nil))
	assert.Equal(t, 0, RetryCount(amqp.Table{"x-retries": "two"}))
	assert.Equal(t, 2, RetryCount(amqp.Table{"x-retries": int32(2)}))
	assert.Equal(t, 3, RetryCount(amqp.Table{"x-retries": int64(3)}))
}
