// Package tasks runs named background tasks on a cron scheduler.
// Periodic tasks run once on start and then on a fixed interval; they
// are deduplicated by name, so each periodic task runs at most once at
// a time. One-shot tasks just run.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
)

// Definition describes a named task the service can run.
type Definition struct {
	Name     string
	Periodic bool
	Interval time.Duration // Delay between periodic runs
	Run      func(ctx context.Context) error
}

// Service schedules registered tasks. It implements
// interfaces.TaskService.
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	tasks     map[string]Definition
	scheduled map[string]cron.EntryID
}

// NewService creates a task service with an empty registry and starts
// its scheduler.
func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron:      cron.New(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]Definition),
		scheduled: make(map[string]cron.EntryID),
	}
	s.cron.Start()
	return s
}

// RegisterTask adds a task definition to the registry. Names are
// unique; registering a name twice fails.
func (s *Service) RegisterTask(def Definition) error {
	if def.Name == "" {
		return errors.New("task name cannot be empty")
	}
	if def.Run == nil {
		return fmt.Errorf("task %s has no run function", def.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[def.Name]; exists {
		return fmt.Errorf("task %s already registered", def.Name)
	}
	s.tasks[def.Name] = def
	return nil
}

// Add starts the named task. Periodic tasks run immediately and then on
// their interval; adding one that is already scheduled fails with
// interfaces.ErrDuplicateTask.
func (s *Service) Add(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name)
}

func (s *Service) addLocked(name string) error {
	def, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownTask, name)
	}
	if !def.Periodic {
		s.launch(def)
		return nil
	}
	if _, running := s.scheduled[name]; running {
		s.logger.Error().Str("task", name).Msg("Attempted to create duplicate periodic task")
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateTask, name)
	}
	id := s.cron.Schedule(cron.Every(def.Interval), cron.FuncJob(func() {
		s.invoke(def)
	}))
	s.scheduled[name] = id
	s.launch(def)
	s.logger.Debug().Str("task", name).Dur("interval", def.Interval).Msg("Periodic task scheduled")
	return nil
}

// Reset cancels the named task if scheduled and starts it again.
func (s *Service) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeLocked(name); err != nil {
		return err
	}
	return s.addLocked(name)
}

// Remove cancels the named periodic task. Removing a task that is not
// scheduled only fails when the name itself is unknown.
func (s *Service) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) error {
	if _, ok := s.tasks[name]; !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownTask, name)
	}
	id, running := s.scheduled[name]
	if !running {
		return nil
	}
	s.cron.Remove(id)
	delete(s.scheduled, name)
	s.logger.Debug().Str("task", name).Msg("Periodic task cancelled")
	return nil
}

// Stop cancels every task and waits for running ones to finish.
func (s *Service) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.mu.Lock()
	s.scheduled = make(map[string]cron.EntryID)
	s.mu.Unlock()
}

// launch runs one task invocation asynchronously. A panicking task is
// logged and dropped rather than taking the scheduler down.
func (s *Service) launch(def Definition) {
	s.wg.Add(1)
	common.SafeGo(s.logger, "task:"+def.Name, func() {
		defer s.wg.Done()
		s.invoke(def)
	})
}

// invoke runs the task once. A failed run is logged and the schedule
// keeps going, so transient failures skip one window at most.
func (s *Service) invoke(def Definition) {
	if s.ctx.Err() != nil {
		return
	}
	if err := def.Run(s.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Warn().Str("task", def.Name).Msg("Task cancelled")
			return
		}
		s.logger.Warn().Err(err).Str("task", def.Name).Msg("Task run failed")
	}
}
