// Package telemetry counts dispatch requests and responses.
//
// Counter names follow the call-counter instances the dispatcher has always emitted:
//   - "<iface>_<step>_<Action>_<channel>" per channel and action
//   - "Call Total - <iface>_<step>" per interface/step, requests only
//   - "Call Total" across everything, requests only
//
// Emission is fire-and-forget for callers: a Sink error must never change the outcome
// of the attempt being counted.
package telemetry

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/mattjoyce/volley/internal/telemetry Sink

import (
	"errors"
	"fmt"
	"sync"
)

// Action is the side of a call being counted.
type Action string

const (
	ActionRequest  Action = "Request"
	ActionResponse Action = "Response"
)

// Level selects which counter instance a Scope addresses.
type Level int

const (
	LevelChannel Level = iota
	LevelInterface
	LevelGlobal
)

// Scope identifies one counter instance.
type Scope struct {
	Level     Level
	Interface string
	Step      string
	Action    Action
	Channel   int
}

// Name renders the counter instance name.
func (s Scope) Name() string {
	switch s.Level {
	case LevelGlobal:
		return "Call Total"
	case LevelInterface:
		return fmt.Sprintf("Call Total - %s_%s", s.Interface, s.Step)
	default:
		return fmt.Sprintf("%s_%s_%s_%d", s.Interface, s.Step, s.Action, s.Channel)
	}
}

// Sink receives counter increments.
type Sink interface {
	Increment(scope Scope) error
}

// Scopes expands one signal into the counter instances it touches. Requests are counted
// per channel, per interface/step and globally; responses only per channel.
func Scopes(iface, step string, action Action, channel int) []Scope {
	ch := Scope{Level: LevelChannel, Interface: iface, Step: step, Action: action, Channel: channel}
	if action != ActionRequest {
		return []Scope{ch}
	}
	return []Scope{
		ch,
		{Level: LevelInterface, Interface: iface, Step: step, Action: action},
		{Level: LevelGlobal, Action: action},
	}
}

// Emit increments every scope and joins the failures. It never stops early.
func Emit(sink Sink, scopes []Scope) error {
	if sink == nil {
		return nil
	}
	var errs []error
	for _, s := range scopes {
		if err := sink.Increment(s); err != nil {
			errs = append(errs, fmt.Errorf("increment %q: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards increments.
type Nop struct{}

// Increment implements Sink.
func (Nop) Increment(Scope) error { return nil }

// Counters is an in-memory, concurrency-safe counter registry.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounters creates an empty registry.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]int64)}
}

// Increment implements Sink.
func (c *Counters) Increment(scope Scope) error {
	c.mu.Lock()
	c.values[scope.Name()]++
	c.mu.Unlock()
	return nil
}

// Get returns the current value of a named counter.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot copies all counters.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
