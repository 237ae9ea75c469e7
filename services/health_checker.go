package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// DependencyStatus is the last result of a check.
type DependencyStatus struct {
	Name         string    `json:"name"`
	Status       string    `json:"status"` // OK, BAD, N/A
	Error        string    `json:"error,omitempty"`
	LastCheck    time.Time `json:"last_check"`
	ResponseTime int64     `json:"response_time"` // milliseconds
}

// HealthChecker periodically probes the services the relay depends on.
type HealthChecker struct {
	mu            sync.RWMutex
	checks        map[string]CheckFunc
	status        map[string]*DependencyStatus
	timeout       time.Duration
	checkInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewHealthChecker creates a checker that runs every checkInterval, giving
// each probe timeout to answer.
func NewHealthChecker(checkInterval, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{
		checks:        make(map[string]CheckFunc),
		status:        make(map[string]*DependencyStatus),
		timeout:       timeout,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// Register adds a dependency to monitor.
func (hc *HealthChecker) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	hc.status[name] = &DependencyStatus{Name: name, Status: "N/A", LastCheck: time.Now()}
	log.Debug().Str("component", "health").Str("dependency", name).Msg("Registered health check")
}

// Start begins monitoring in the background.
func (hc *HealthChecker) Start() {
	go hc.monitorLoop()
}

// Stop halts monitoring. It is safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}

func (hc *HealthChecker) monitorLoop() {
	hc.CheckAll(context.Background())

	if hc.checkInterval <= 0 {
		return
	}
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.CheckAll(context.Background())
		case <-hc.stopChan:
			return
		}
	}
}

// CheckAll runs every check concurrently and waits for them.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	hc.mu.RLock()
	checks := make(map[string]CheckFunc, len(hc.checks))
	for name, fn := range hc.checks {
		checks[name] = fn
	}
	hc.mu.RUnlock()

	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hc.check(ctx, name, fn)
		}()
	}
	wg.Wait()
}

func (hc *HealthChecker) check(ctx context.Context, name string, fn CheckFunc) {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start).Milliseconds()

	hc.mu.Lock()
	defer hc.mu.Unlock()
	status, ok := hc.status[name]
	if !ok {
		return
	}
	status.LastCheck = time.Now()
	status.ResponseTime = elapsed
	if err != nil {
		if status.Status != "BAD" {
			log.Warn().Err(err).Str("component", "health").Str("dependency", name).Msg("Dependency unhealthy")
		}
		status.Status = "BAD"
		status.Error = err.Error()
		return
	}
	if status.Status == "BAD" {
		log.Info().Str("component", "health").Str("dependency", name).Msg("Dependency recovered")
	}
	status.Status = "OK"
	status.Error = ""
}

// GetStatus returns a copy of one dependency's status, or nil.
func (hc *HealthChecker) GetStatus(name string) *DependencyStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if status, ok := hc.status[name]; ok {
		statusCopy := *status
		return &statusCopy
	}
	return nil
}

// GetAll returns copies of every status.
func (hc *HealthChecker) GetAll() map[string]*DependencyStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]*DependencyStatus, len(hc.status))
	for name, status := range hc.status {
		statusCopy := *status
		out[name] = &statusCopy
	}
	return out
}

// Failing lists dependencies whose last check failed, sorted.
func (hc *HealthChecker) Failing() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	var out []string
	for name, status := range hc.status {
		if status.Status == "BAD" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
