// Command dlq-reprocess перечитывает sales.dlq и возвращает сообщения в исходные topic-и.
// По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "SALES_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// onlyTopic оставляет только записи с этим исходным topic-ом.
	onlyTopic string
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayProducer реализуется *kafka.Producer.
type replayProducer interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		brokersRaw string
		cfg        config
	)
	fs.StringVar(&brokersRaw, "brokers", getenv(envKafkaBrokers), "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderSubmitted, "fallback topic when a DLQ record has no original topic")
	fs.StringVar(&cfg.onlyTopic, "only-topic", "", "replay only records that originally came from this topic")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.onlyTopic = strings.TrimSpace(cfg.onlyTopic)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
		"only_topic":   cfg.onlyTopic,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	summary, err := runReplay(ctx, cfg, client, consumer, producer)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": summary.processed,
		"replayed":  summary.replayed,
		"skipped":   summary.skipped,
		"by_topic":  summary.byTopic,
	}).Info("dlq replay finished")
	return nil
}

// replayStats считает записи DLQ; byTopic группирует кандидатов по целевому topic-у.
type replayStats struct {
	processed int
	replayed  int
	skipped   int
	byTopic   map[string]int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
	for topic, count := range other.byTopic {
		s.countTopic(topic, count)
	}
}

func (s *replayStats) countTopic(topic string, n int) {
	if s.byTopic == nil {
		s.byTopic = make(map[string]int)
	}
	s.byTopic[topic] += n
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayStats, error) {
	var summary replayStats
	if client == nil || consumer == nil {
		return summary, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return summary, fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return summary, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return summary, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if summary.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-summary.processed)
		summary.add(stats)
		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// processPartition читает partition с начала окна до newest, не больше limit записей.
func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, err := replayWindow(client, cfg, partition, limit)
	if err != nil || start >= end {
		return stats, err
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			resetTimer(idle, cfg.idleTimeout)

			target, err := replayRecord(ctx, producer, cfg, msg)
			if err != nil {
				return stats, err
			}
			stats.processed++
			if target == "" {
				stats.skipped++
			} else {
				stats.replayed++
				stats.countTopic(target, 1)
			}

			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// replayWindow возвращает полуинтервал offset-ов [start, end) для обхода partition.
func replayWindow(client offsetClient, cfg config, partition int32, limit int) (int64, int64, error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}

	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}
	return start, newest, nil
}

// replayRecord разбирает DLQ-запись и переотправляет её (или только логирует в dry-run).
// Возвращает целевой topic или пустую строку, если запись пропущена.
func replayRecord(ctx context.Context, producer replayProducer, cfg config, msg *sarama.ConsumerMessage) (string, error) {
	logger := log.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	replay, ok, err := extractReplayMessage(msg, cfg.targetTopic)
	switch {
	case err != nil:
		logger.WithError(err).Warn("skip unsupported dlq message")
		return "", nil
	case !ok:
		return "", nil
	case cfg.onlyTopic != "" && replay.topic != cfg.onlyTopic:
		logger.WithField("target_topic", replay.topic).Debug("skip dlq message for another topic")
		return "", nil
	}

	logger = logger.WithFields(log.Fields{
		"target_topic": replay.topic,
		"key":          replay.key,
	})
	if !cfg.execute {
		logger.Info("dlq replay candidate")
		return replay.topic, nil
	}
	if err := publishReplay(ctx, producer, replay); err != nil {
		return "", fmt.Errorf("publish replay message: %w", err)
	}
	logger.Debug("dlq message replayed")
	return replay.topic, nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func publishReplay(ctx context.Context, producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}
	return producer.Send(ctx, msg.topic, msg.key, msg.value, msg.headers)
}

// extractReplayMessage восстанавливает исходное сообщение из записи DLQ.
// Повторно отправленное сообщение получает новый бюджет повторов:
// заголовок x-retry-count не переносится.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool, error) {
	var consumerPayload kafka.DeadLetterMessage
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		return replayMessage{
			topic: firstNonEmpty(consumerPayload.OriginalTopic, defaultTopic),
			key:   consumerPayload.OriginalKey,
			value: []byte(consumerPayload.OriginalValue),
		}, true, nil
	}

	var outboxPayload kafka.OutboxDeadLetter
	if err := json.Unmarshal(msg.Value, &outboxPayload); err != nil {
		return replayMessage{}, false, nil
	}
	if outboxPayload.OutboxID == "" {
		return replayMessage{}, false, nil
	}
	if len(outboxPayload.Payload) == 0 || string(outboxPayload.Payload) == "null" {
		return replayMessage{}, false, fmt.Errorf("outbox dlq record %s does not contain original event payload", outboxPayload.OutboxID)
	}

	return replayMessage{
		topic: firstNonEmpty(outboxPayload.OriginalTopic, defaultTopic),
		key:   firstNonEmpty(outboxPayload.OriginalKey, outboxPayload.OutboxID),
		value: outboxPayload.Payload,
		headers: map[string]string{
			kafka.HeaderEventType: outboxPayload.EventType,
			kafka.HeaderOutboxID:  outboxPayload.OutboxID,
		},
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
