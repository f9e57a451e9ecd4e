package kafka

import (
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-finalizer/internal/worker"
)

const (
	HeaderMessageID     = "x-message-id"
	HeaderSubject       = "x-subject"
	HeaderCorrelationID = "x-correlation-id"
	HeaderEventType     = "x-event-type"
	HeaderEventVersion  = "x-event-version"
	HeaderDeliveryCount = "x-delivery-count"

	HeaderDeadLetterReason      = "x-dead-letter-reason"
	HeaderDeadLetterSourceTopic = "x-dead-letter-source-topic"
)

func header(m kafka.Message, key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// withHeader returns a copy of headers with key set to value.
func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}

// MessageID is the producer-assigned id, or the message's log position when the
// producer set none. Both are stable across redeliveries of the same record.
func MessageID(m kafka.Message) string {
	if id, ok := header(m, HeaderMessageID); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

func deliveryCount(m kafka.Message) int {
	v, ok := header(m, HeaderDeliveryCount)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func toDelivery(m kafka.Message) worker.Delivery {
	d := worker.Delivery{
		MessageID:     MessageID(m),
		Body:          m.Value,
		DeliveryCount: deliveryCount(m),
		Token:         m,
	}
	d.Subject, _ = header(m, HeaderSubject)
	d.CorrelationID, _ = header(m, HeaderCorrelationID)
	d.EventType, _ = header(m, HeaderEventType)
	return d
}

// redeliveryOf copies m for another attempt on the same topic. The message id is
// pinned so a redelivery of an applied change is still recognised as a duplicate.
func redeliveryOf(m kafka.Message, attempt int) kafka.Message {
	headers := withHeader(m.Headers, HeaderMessageID, MessageID(m))
	headers = withHeader(headers, HeaderDeliveryCount, strconv.Itoa(attempt))
	return kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Headers: headers}
}

// deadLetterOf keeps body and headers unchanged and adds the reason.
func deadLetterOf(m kafka.Message, topic, reason string) kafka.Message {
	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDeadLetterReason, Value: []byte(reason)},
		kafka.Header{Key: HeaderDeadLetterSourceTopic, Value: []byte(m.Topic)},
	)
	return kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Headers: headers}
}
