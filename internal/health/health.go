// Package health отдаёт JSON-состояние зависимостей сервиса и probe-эндпоинты.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// Теги определяют, какие проверки участвуют в probe-эндпоинтах.
// /healthz всегда прогоняет все проверки.
const (
	TagLive  = "live"
	TagReady = "ready"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат одной проверки.
type Check struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет здоровье компонента в пределах ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

type registration struct {
	checker Checker
	tags    []string
}

// Handler обслуживает /healthz, /livez и /readyz.
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]registration
	version   string
	startTime time.Time
	timeout   time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checks:    make(map[string]registration),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// SetTimeout задаёт общий таймаут на прогон проверок.
func (h *Handler) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = timeout
}

// Register добавляет проверку под именем name. Повторная регистрация заменяет прежнюю.
func (h *Handler) Register(name string, checker Checker, tags ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registration{checker: checker, tags: slices.Clone(tags)}
}

// Names возвращает отсортированные имена проверок.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run параллельно выполняет проверки с тегом tag (пустой tag означает все) и сводит общий статус.
func (h *Handler) Run(ctx context.Context, tag string) (Status, map[string]Check) {
	h.mu.RLock()
	selected := make(map[string]registration, len(h.checks))
	for name, reg := range h.checks {
		if tag == "" || slices.Contains(reg.tags, tag) {
			selected[name] = reg
		}
	}
	timeout := h.timeout
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(selected))
		g      errgroup.Group
	)
	for name, reg := range selected {
		g.Go(func() error {
			check := reg.checker.Check(ctx)
			check.Name = name
			check.Tags = reg.tags
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(checks), checks
}

func aggregate(checks map[string]Check) Status {
	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// ServeHTTP обрабатывает /healthz.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context(), "")

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// LivenessHandler обрабатывает /livez: без live-проверок процесс считается живым.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.probe(w, r, TagLive, "ok", "not ok")
}

// ReadinessHandler отвечает 503, пока хотя бы одна ready-проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.probe(w, r, TagReady, "ready", "not ready")
}

func (h *Handler) probe(w http.ResponseWriter, r *http.Request, tag, okBody, failBody string) {
	if status, _ := h.Run(r.Context(), tag); status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(failBody))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(okBody))
}

// FuncChecker превращает функцию проверки в Checker.
// Ошибка критичной проверки даёт unhealthy, некритичной даёт degraded.
type FuncChecker struct {
	check    func(ctx context.Context) error
	critical bool
}

// Critical создаёт проверку, без которой сервис не может обрабатывать сообщения.
func Critical(check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{check: check, critical: true}
}

// Optional создаёт проверку, отказ которой только ухудшает состояние.
func Optional(check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{check: check}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.check(ctx)
	result := Check{Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err == nil {
		return result
	}

	result.Status = StatusDegraded
	if c.critical {
		result.Status = StatusUnhealthy
	}
	result.Message = err.Error()
	return result
}

// OutboxBacklog возвращает проверку, которая деградирует, если самое старое
// неотправленное событие ждёт дольше maxLag.
func OutboxBacklog(repo domain.OutboxRepository, maxLag time.Duration) *FuncChecker {
	return Optional(func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
			return nil
		}
		if lag := time.Since(stats.OldestPendingAt); lag > maxLag {
			return fmt.Errorf("%d pending events, oldest waits %s", stats.PendingCount, lag.Truncate(time.Second))
		}
		return nil
	})
}
