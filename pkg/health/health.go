package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds one channel health check.
const DefaultCheckTimeout = 10 * time.Second

// Outcome is the classified result of one health check.
type Outcome int

const (
	Healthy Outcome = iota
	Unhealthy
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Checker is anything with a boolean health check. Channels satisfy it.
type Checker interface {
	HealthCheck(context.Context) bool
}

// Classify maps a check result onto an outcome. A deadline error wins over ok.
func Classify(ok bool, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if err != nil || !ok {
		return Unhealthy
	}
	return Healthy
}

// CheckChannel checks c under timeout. Checks that ignore ctx are abandoned
// once the timeout fires.
func CheckChannel(ctx context.Context, c Checker, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		result <- c.HealthCheck(checkCtx)
	}()

	select {
	case ok := <-result:
		// A checker that honours ctx reports false right at the deadline.
		return Classify(ok, checkCtx.Err())
	case <-checkCtx.Done():
		return Classify(false, checkCtx.Err())
	}
}

// Summary counts outcomes across a set of checks.
type Summary struct {
	Healthy   int
	Unhealthy int
	TimedOut  int
}

func (s *Summary) Add(o Outcome) {
	switch o {
	case Healthy:
		s.Healthy++
	case Timeout:
		s.TimedOut++
	default:
		s.Unhealthy++
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("Summary: %d healthy, %d unhealthy, %d timed out", s.Healthy, s.Unhealthy, s.TimedOut)
}

// Component is the last known state of one supervised component.
type Component struct {
	Status       string     `json:"status"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastOK       *time.Time `json:"last_ok,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	RestartCount uint64     `json:"restart_count"`
}

// Snapshot is the JSON document served on /healthz.
type Snapshot struct {
	PID           int                  `json:"pid"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Components    map[string]Component `json:"components"`
}

// Registry tracks component states reported by supervisors.
type Registry struct {
	mu         sync.RWMutex
	startedAt  time.Time
	components map[string]*Component
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		startedAt:  time.Now(),
		components: make(map[string]*Component),
		now:        time.Now,
	}
}

func (r *Registry) component(name string) *Component {
	c, ok := r.components[name]
	if !ok {
		c = &Component{Status: "starting"}
		r.components[name] = c
	}
	return c
}

func (r *Registry) MarkOK(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	c := r.component(name)
	c.Status = "ok"
	c.UpdatedAt = now
	c.LastOK = &now
	c.LastError = ""
}

func (r *Registry) MarkError(name string, msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.component(name)
	c.Status = "error"
	c.UpdatedAt = r.now().UTC()
	c.LastError = msg
}

func (r *Registry) BumpRestart(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.component(name).RestartCount++
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		PID:           os.Getpid(),
		UptimeSeconds: int64(r.now().Sub(r.startedAt).Seconds()),
		Components:    make(map[string]Component, len(r.components)),
	}
	for name, c := range r.components {
		copied := *c
		out.Components[name] = copied
	}
	return out
}

// NotReady returns the sorted names among names whose status is not "ok".
func (r *Registry) NotReady(names ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []string
	for _, name := range names {
		c, ok := r.components[name]
		if !ok || c.Status != "ok" {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}
