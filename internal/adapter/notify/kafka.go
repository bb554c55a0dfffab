package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type readerFactory func(brokers []string, topic, groupID string) Reader

// Every server instance must see every event, so each one joins with its own
// group id and starts from the newest offset.
var newReader readerFactory = func(brokers []string, topic, groupID string) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})
}

type KafkaTransport struct {
	brokers []string
	topic   string
	groupID string
	logger  zerolog.Logger
}

func NewKafkaTransport(brokers []string, groupID string, logger zerolog.Logger) *KafkaTransport {
	return &KafkaTransport{
		brokers: brokers,
		topic:   Channel,
		groupID: groupID,
		logger:  logger.With().Str("transport", "kafka").Logger(),
	}
}

func (t *KafkaTransport) Connect(ctx context.Context) (port.ChangeStream, error) {
	if len(t.brokers) == 0 {
		return nil, fmt.Errorf("kafka connect: no brokers configured")
	}
	return &kafkaStream{r: newReader(t.brokers, t.topic, t.groupID), logger: t.logger}, nil
}

type kafkaStream struct {
	r      Reader
	logger zerolog.Logger
}

func (s *kafkaStream) Receive(ctx context.Context) (domain.ChangeEvent, error) {
	for {
		msg, err := s.r.ReadMessage(ctx)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("kafka read: %w", err)
		}
		ev, err := decode(msg.Value)
		if err != nil {
			s.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skip malformed change event")
			continue
		}
		return ev, nil
	}
}

func (s *kafkaStream) Close() error {
	return s.r.Close()
}

// DefaultPublishTimeout bounds one Publish call, broker retries included.
const DefaultPublishTimeout = 3 * time.Second

type KafkaPublisher struct {
	w       Writer
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    Channel,
			Balancer: &kafka.Hash{},
			// events are written one at a time right after a commit, flush them at once
			BatchSize:              1,
			BatchTimeout:           5 * time.Millisecond,
			WriteTimeout:           DefaultPublishTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: DefaultPublishTimeout,
	}
}

// NewKafkaPublisherWithWriter is used when the caller owns the writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: DefaultPublishTimeout}
}

// Publish keys messages by table so events of one table stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.Table), Value: data}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
