package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	redis "github.com/redis/go-redis/v9"
)

// ErrUnknownClass reports a budget class with no configured rule.
var ErrUnknownClass = errors.New("unknown_budget_class")

const keyBudget = "statedge:budget:%s"

// Decision is the outcome of one budget acquisition.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Budget admits operations against fixed-window allowances per class.
// Acquire consumes a slot when one is free; WaitFor blocks until a slot
// frees or the context ends.
type Budget interface {
	Acquire(ctx context.Context, class string) (Decision, error)
	WaitFor(ctx context.Context, class string) error
}

// The window opens on the first hit and closes when the key expires, so
// every caller sees the same reset instant.
const budgetAcquireScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

type redisBudget struct {
	client *redis.Client
	script *redis.Script
	limits *config.LimitsHolder
	clock  clock.Clock
}

// NewRedisBudget builds a Budget shared across instances through redis.
func NewRedisBudget(client *redis.Client, limits *config.LimitsHolder, c clock.Clock) Budget {
	return &redisBudget{
		client: client,
		script: redis.NewScript(budgetAcquireScript),
		limits: limits,
		clock:  c,
	}
}

func (b *redisBudget) Acquire(ctx context.Context, class string) (Decision, error) {
	rule, ok := b.limits.Get().Budget(class)
	if !ok {
		return Decision{}, ErrUnknownClass
	}

	key := fmt.Sprintf(keyBudget, strings.TrimSpace(class))
	raw, err := b.script.Run(ctx, b.client, []string{key}, rule.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected budget script reply: %v", raw)
	}
	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	resetAt := b.clock.Now().Add(time.Duration(ttlMillis) * time.Millisecond)
	return Decision{
		Allowed:   count <= int64(rule.Limit),
		Limit:     rule.Limit,
		Remaining: clampNonNegative(rule.Limit - int(count)),
		ResetAt:   resetAt,
	}, nil
}

func (b *redisBudget) WaitFor(ctx context.Context, class string) error {
	return waitFor(ctx, b, b.clock, class)
}

type memoryWindow struct {
	start time.Time
	count int
}

type memoryBudget struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	limits  *config.LimitsHolder
	clock   clock.Clock
}

// NewMemoryBudget builds a process-local Budget for single-instance
// deployments and tests.
func NewMemoryBudget(limits *config.LimitsHolder, c clock.Clock) Budget {
	return &memoryBudget{
		windows: make(map[string]memoryWindow),
		limits:  limits,
		clock:   c,
	}
}

func (b *memoryBudget) Acquire(_ context.Context, class string) (Decision, error) {
	rule, ok := b.limits.Get().Budget(class)
	if !ok {
		return Decision{}, ErrUnknownClass
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.windows[class]
	if w.start.IsZero() || !now.Before(w.start.Add(rule.Window)) {
		w = memoryWindow{start: now}
	}
	w.count++
	b.windows[class] = w

	return Decision{
		Allowed:   w.count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: clampNonNegative(rule.Limit - w.count),
		ResetAt:   w.start.Add(rule.Window),
	}, nil
}

func (b *memoryBudget) WaitFor(ctx context.Context, class string) error {
	return waitFor(ctx, b, b.clock, class)
}

// waitFor re-acquires after each window close until admitted. Denied probes
// are harmless: they never open a new window and never extend the current one.
// The wait is measured against the same clock that produced ResetAt.
func waitFor(ctx context.Context, b Budget, c clock.Clock, class string) error {
	for {
		decision, err := b.Acquire(ctx, class)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}

		wait := decision.ResetAt.Sub(c.Now())
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
