// Package scheduler dispatches named periodic services from a single base
// tick. Each service runs every N base ticks; services never overlap
// because they are invoked synchronously in registration order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MaxServices is the number of services a scheduler accepts.
const MaxServices = 10

var (
	ErrFull      = errors.New("scheduler: service table full")
	ErrDuplicate = errors.New("scheduler: service already registered")
	ErrNotFound  = errors.New("scheduler: service not registered")
	ErrInterval  = errors.New("scheduler: interval must be a positive multiple of the base tick")
)

// Func is a service body. now is the time of the base tick that fired it.
type Func func(now time.Time)

type service struct {
	name      string
	threshold int
	count     int
	fn        Func
}

// Scheduler holds the service table.
type Scheduler struct {
	base time.Duration
	log  *slog.Logger

	mu       sync.Mutex
	services []*service
}

// New creates a scheduler driven by a tick of period base.
func New(base time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{base: base, log: log}
}

// Base returns the base tick period.
func (s *Scheduler) Base() time.Duration { return s.base }

// Register adds a service that runs every interval. The interval must be a
// whole multiple of the base tick.
func (s *Scheduler) Register(name string, interval time.Duration, fn Func) error {
	if s.base <= 0 || interval < s.base || interval%s.base != 0 {
		return fmt.Errorf("%w: %s every %v on a %v base", ErrInterval, name, interval, s.base)
	}
	if fn == nil {
		return fmt.Errorf("scheduler: nil func for %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	if len(s.services) >= MaxServices {
		return fmt.Errorf("%w: cannot add %s", ErrFull, name)
	}
	s.services = append(s.services, &service{
		name:      name,
		threshold: int(interval / s.base),
		fn:        fn,
	})
	s.log.Debug("service registered", "service", name, "interval", interval)
	return nil
}

// Unregister removes a service.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, svc := range s.services {
		if svc.name == name {
			s.services = append(s.services[:i], s.services[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Len returns the number of registered services.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.services)
}

// Step advances every service by one base tick and runs those that are due.
func (s *Scheduler) Step(now time.Time) {
	s.mu.Lock()
	var due []*service
	for _, svc := range s.services {
		svc.count++
		if svc.count >= svc.threshold {
			svc.count = 0
			due = append(due, svc)
		}
	}
	s.mu.Unlock()

	for _, svc := range due {
		svc.fn(now)
	}
}

// Run steps the scheduler on every tick until ctx is done or tick is closed.
func (s *Scheduler) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now, ok := <-tick:
			if !ok {
				return nil
			}
			s.Step(now)
		}
	}
}
