// Command loadtest нагружает sales-service через Kafka: шлёт SubmitOrder-команды
// или пары событий OrderPacked/PaymentAccepted и печатает сводку по задержкам отправки.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

const (
	envKafkaBrokers = "SALES_KAFKA_BROKERS"
	scenarioMethod  = "scenario"

	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

type loadMode string

const (
	// modeSubmit шлёт SubmitOrder-команды по кругу для customers клиентов.
	modeSubmit loadMode = "submit"
	// modeStatus шлёт OrderPacked и PaymentAccepted для заказов first-order..first-order+N.
	modeStatus loadMode = "status"
)

type config struct {
	brokers      []string
	topics       kafka.Topics
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	timeout      time.Duration
	mode         loadMode
	customers    int64
	productID    int64
	quantity     int
	firstOrderID int64
	outputPath   string
}

// sender реализуется *kafka.Producer.
type sender interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{outcomes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if err == nil {
		stats.success++
	} else {
		stats.failed++
	}
	stats.outcomes[outcome(err)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		outcomes := make(map[string]int64, len(stats.outcomes))
		for key, count := range stats.outcomes {
			outcomes[key] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Outcomes:  outcomes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg := config{topics: kafka.DefaultTopics()}
	var brokersRaw, modeValue string

	fs.StringVar(&brokersRaw, "brokers", getenv(envKafkaBrokers), "comma-separated kafka brokers")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-send timeout")
	fs.StringVar(&modeValue, "mode", string(modeSubmit), "load mode: submit | status")
	fs.Int64Var(&cfg.customers, "customers", 10, "number of customers to rotate in submit mode (ids 1..N)")
	fs.Int64Var(&cfg.productID, "product", 1, "product id for submitted orders")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity for submitted orders")
	fs.Int64Var(&cfg.firstOrderID, "first-order", 1, "first order id in status mode")
	fs.StringVar(&cfg.topics.SubmitOrder, "submit-topic", cfg.topics.SubmitOrder, "submit-order topic")
	fs.StringVar(&cfg.topics.OrderPacked, "packed-topic", cfg.topics.OrderPacked, "order-packed topic")
	fs.StringVar(&cfg.topics.PaymentAccepted, "payment-topic", cfg.topics.PaymentAccepted, "payment-accepted topic")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, broker := range strings.Split(brokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return cfg, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.customers <= 0:
		return cfg, errors.New("customers must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product must be > 0")
	case cfg.quantity <= 0 || cfg.quantity > math.MaxInt32:
		return cfg, errors.New("quantity must be between 1 and 2147483647")
	case cfg.firstOrderID <= 0:
		return cfg, errors.New("first-order must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeSubmit:
		return modeSubmit, nil
	case modeStatus:
		return modeStatus, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create kafka producer: %v\n", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := run(ctx, producer, cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, s sender, cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(ctx, s, cfg, index, runID, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, s sender, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), err)
	}()

	switch cfg.mode {
	case modeStatus:
		msg := kafka.OrderStatusMessage{
			OrderID:    cfg.firstOrderID + int64(index),
			CustomerID: customerFor(cfg, index),
		}
		if err := send(ctx, s, cfg.timeout, col, "OrderPacked", cfg.topics.OrderPacked, kafka.OrderKey(msg.OrderID), msg, nil); err != nil {
			return err
		}
		return send(ctx, s, cfg.timeout, col, "PaymentAccepted", cfg.topics.PaymentAccepted, kafka.OrderKey(msg.OrderID), msg, nil)
	default:
		cmd := domain.SubmitOrderCommand{
			CorrelationID: fmt.Sprintf("lt-%s-%d", runID, index),
			CustomerID:    customerFor(cfg, index),
			Items:         []domain.ItemRequest{{ProductID: cfg.productID, Quantity: int32(cfg.quantity)}},
		}
		headers := map[string]string{kafka.HeaderCorrelationID: cmd.CorrelationID}
		key := fmt.Sprintf("%d", cmd.CustomerID)
		return send(ctx, s, cfg.timeout, col, "SubmitOrder", cfg.topics.SubmitOrder, key, kafka.NewSubmitOrderMessage(cmd), headers)
	}
}

func send(
	ctx context.Context,
	s sender,
	timeout time.Duration,
	col *collector,
	method, topic, key string,
	payload any,
	headers map[string]string,
) error {
	value, err := json.Marshal(payload)
	if err != nil {
		col.record(method, 0, err)
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = s.Send(sendCtx, topic, key, value, headers)
	col.record(method, time.Since(start), err)
	return err
}

// customerFor распределяет сценарии по клиентам 1..customers.
func customerFor(cfg config, index int) int64 {
	return int64(index)%cfg.customers + 1
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
