package transport

import (
	"context"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"finmesh/internal/adapters/kafka"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// KafkaTransport publishes each envelope to the receiver's inbox topic and
// consumes its own inbox plus the registry topic.
type KafkaTransport struct {
	agentID string
	brokers []string
	groupID string
	log     *logger.Logger

	producer *kafka.Producer

	mu        sync.Mutex
	consumers []*kafka.Consumer
	inboxRead *kafka.Consumer
	listening bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaTransport creates a transport over the given brokers.
// Each agent consumes with its own group so registry traffic fans out to every agent.
func NewKafkaTransport(agentID string, brokers []string, groupID string) *KafkaTransport {
	if groupID == "" {
		groupID = "finmesh"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaTransport{
		agentID:  agentID,
		brokers:  brokers,
		groupID:  groupID + "." + agentID,
		log:      logger.Get().With("component", "kafka_transport", "agent_id", agentID),
		producer: kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send publishes env keyed by sender so one sender's envelopes keep their order
func (t *KafkaTransport) Send(ctx context.Context, env *a2a.Envelope) bool {
	data, err := a2a.Encode(env)
	if err != nil {
		t.log.Warnw("Failed to encode envelope", "message_id", env.ID, "error", err)
		recordSend(KindKafka, env, false)
		return false
	}

	if err := t.producer.Publish(ctx, kafka.AgentTopic(env.ReceiverID), env.SenderID, data); err != nil {
		t.log.Warnw("Failed to publish envelope", "receiver_id", env.ReceiverID, "error", err)
		recordSend(KindKafka, env, false)
		return false
	}
	recordSend(KindKafka, env, true)
	return true
}

// Receive reads the next envelope from the agent inbox topic
func (t *KafkaTransport) Receive(ctx context.Context) *a2a.Envelope {
	consumer := t.inboxConsumer()
	for {
		msg, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && t.ctx.Err() == nil {
				t.log.Warnw("Failed to read inbox", "error", err)
			}
			return nil
		}
		env, err := a2a.Decode(msg.Value)
		if err != nil {
			metrics.RecordDrop(KindKafka, "malformed")
			continue
		}
		metrics.RecordReceive(KindKafka, string(env.Kind))
		return env
	}
}

func (t *KafkaTransport) inboxConsumer() *kafka.Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inboxRead == nil {
		t.inboxRead = t.newConsumer(kafka.AgentTopic(t.agentID))
	}
	return t.inboxRead
}

func (t *KafkaTransport) newConsumer(topic string) *kafka.Consumer {
	c := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: t.brokers,
		GroupID: t.groupID,
		Topic:   topic,
	})
	t.consumers = append(t.consumers, c)
	return c
}

// StartListener consumes the inbox and registry topics; port is ignored
func (t *KafkaTransport) StartListener(ctx context.Context, _ int, onMessage OnMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Wrap(errors.ErrNotConnected, "transport closed")
	}
	if t.listening {
		t.mu.Unlock()
		return errors.Wrapf(errors.ErrListenerRunning, "agent %s", t.agentID)
	}
	t.listening = true
	consumers := []*kafka.Consumer{
		t.newConsumer(kafka.AgentTopic(t.agentID)),
		t.newConsumer(kafka.TopicRegistry),
	}
	t.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-t.ctx.Done():
		case <-listenCtx.Done():
		}
		cancel()
	}()

	handle := func(ctx context.Context, value []byte) error {
		env, err := a2a.Decode(value)
		if err != nil {
			metrics.RecordDrop(KindKafka, "malformed")
			return err
		}
		if !addressedToMe(t.agentID, env) {
			metrics.RecordDrop(KindKafka, "misaddressed")
			return nil
		}
		if env.Kind == a2a.KindRegistration && env.SenderID == t.agentID {
			return nil
		}
		dispatch(ctx, KindKafka, t.log, onMessage, env)
		return nil
	}

	for _, c := range consumers {
		t.wg.Add(1)
		go func(c *kafka.Consumer) {
			defer t.wg.Done()
			_ = c.Consume(listenCtx, handle)
		}(c)
	}

	t.log.Infow("Kafka listener started", "topic", kafka.AgentTopic(t.agentID), "group_id", t.groupID)
	return nil
}

// Connect dials endpoint (or the first configured broker) to check reachability
func (t *KafkaTransport) Connect(ctx context.Context, endpoint string) bool {
	if endpoint == "" && len(t.brokers) > 0 {
		endpoint = t.brokers[0]
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := kafkago.DialContext(dialCtx, "tcp", endpoint)
	if err != nil {
		t.log.Warnw("Failed to reach Kafka broker", "endpoint", endpoint, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// Close stops consumers and flushes the producer
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := append([]*kafka.Consumer(nil), t.consumers...)
	t.mu.Unlock()

	t.cancel()
	var errs []error
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()
	if err := t.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
