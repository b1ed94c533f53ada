// Package shutdown stops probe programs in phases.
//
// Lower phases run first; steps in the same phase run concurrently:
//
//	coord := shutdown.New(log)
//	coord.Register("websocket", shutdown.PhaseConnections, func(ctx context.Context) error {
//	    return conn.Close()
//	})
//	coord.Register("exporter", shutdown.PhaseFlush, func(context.Context) error {
//	    return exporter.Close()
//	})
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	coord.Run(ctx, 5*time.Second) // blocks until a signal, then shuts down
package shutdown

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/logging"
)

// Standard phases.
const (
	// PhaseIngress stops listeners so no new connections arrive.
	PhaseIngress = 10

	// PhaseConnections closes connections, which stops probing.
	PhaseConnections = 20

	// PhaseFlush flushes exporters and tracer providers.
	PhaseFlush = 30
)

// Func is one shutdown step. ctx expires with the shutdown timeout.
type Func func(ctx context.Context) error

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

type step struct {
	name  string
	phase int
	fn    Func
}

// Coordinator runs registered steps once, phase by phase.
type Coordinator struct {
	log *logging.Logger

	mu      sync.Mutex
	steps   []step
	once    sync.Once
	done    chan struct{}
	err     error
	results []StepResult
}

// New creates a coordinator. A nil logger logs to stdout.
func New(log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.New()
	}
	return &Coordinator{
		log:  log.WithComponent("shutdown"),
		done: make(chan struct{}),
	}
}

// Register adds a step. Steps registered after shutdown starts are ignored.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn})
}

// Run blocks until ctx is done, then shuts down within timeout.
func (c *Coordinator) Run(ctx context.Context, timeout time.Duration) error {
	<-ctx.Done()
	c.log.Info("shutdown_started", map[string]interface{}{"timeout": timeout.String()})

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(sctx)
}

// Shutdown runs every step once. Later calls wait for the first and return
// its error. Step failures are joined; an expired ctx between phases
// stops the sequence with a TIMEOUT error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Results returns every step outcome, in phase order.
func (c *Coordinator) Results() []StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StepResult(nil), c.results...)
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	steps := append([]step(nil), c.steps...)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].phase < steps[j].phase })

	var errs []error
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			errs = append(errs, errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded",
				errors.WithMetadata("phase", strconv.Itoa(group[0].phase))))
			break
		}
		for _, r := range c.runPhase(ctx, group) {
			if r.Err != nil {
				errs = append(errs, errors.Wrap(r.Err, "shutdown step "+r.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// runPhase runs all steps in a phase concurrently.
func (c *Coordinator) runPhase(ctx context.Context, steps []step) []StepResult {
	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup

	for i, s := range steps {
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			err := s.fn(ctx)
			results[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(start), Err: err}
		}()
	}
	wg.Wait()

	for _, r := range results {
		fields := map[string]interface{}{
			"step":        r.Name,
			"phase":       r.Phase,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			fields["error"] = r.Err.Error()
			c.log.Warn("shutdown_step_failed", fields)
		} else {
			c.log.Debug("shutdown_step_done", fields)
		}
	}

	c.mu.Lock()
	c.results = append(c.results, results...)
	c.mu.Unlock()
	return results
}

// groupByPhase splits steps, already sorted by phase, into runs of equal phase.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i, s := range steps {
		if i == 0 || s.phase != steps[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], s)
	}
	return groups
}
