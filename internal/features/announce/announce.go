// Package announce posts recurring messages to the owner chat. Each
// configured announcement runs as one scheduled routine; hot config reloads
// rebuild the whole set.
package announce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"toybot/internal/config"
	"toybot/internal/eventbus"
	"toybot/internal/routine"
	"toybot/internal/transport"
	logx "toybot/pkg/logx"
)

const defaultRatePerMinute = 20

type Service struct {
	sender transport.Adapter
	log    logx.Logger
	bus    eventbus.Bus

	mu      sync.Mutex
	mgr     *routine.Manager
	target  transport.ChatTarget
	limiter *rate.Limiter
}

func New(sender transport.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender:  sender,
		log:     log.With(logx.String("svc", "announce")),
		bus:     bus,
		limiter: rate.NewLimiter(rate.Every(time.Minute/defaultRatePerMinute), 1),
	}
	s.mgr = routine.NewManager(
		routine.WithManagerLogger(s.log),
		routine.WithManagerBus(bus),
	)
	return s
}

// Manager exposes the underlying scheduler, mainly for status reporting.
func (s *Service) Manager() *routine.Manager { return s.mgr }

// Apply tears down the current announcement set and rebuilds it from cfg.
// Safe to call on every config reload.
func (s *Service) Apply(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mgr.Clear()
	s.target = transport.ChatTarget{
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
	}

	rpm := cfg.Announce.RatePerMinute
	if rpm <= 0 {
		rpm = defaultRatePerMinute
	}
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)

	if !cfg.Announce.Enabled {
		s.log.Debug("announcements disabled")
		return nil
	}

	for i, a := range cfg.Announce.Announcements {
		r, err := s.buildRoutine(i, a)
		if err != nil {
			return fmt.Errorf("announcement %d: %w", i, err)
		}
		if _, err := r.Start(ctx); err != nil {
			return fmt.Errorf("announcement %q: %w", r.Name(), err)
		}
	}
	s.log.Info("announcements scheduled", logx.Int("count", len(cfg.Announce.Announcements)))
	return nil
}

func (s *Service) buildRoutine(idx int, a config.Announcement) (*routine.Routine, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = fmt.Sprintf("announce:%d", idx)
	} else {
		name = "announce:" + name
	}

	initialWait, err := config.ParseDurationField("initial_wait", a.InitialWait)
	if err != nil {
		return nil, err
	}

	opts := []routine.Option{
		routine.WithName(name),
		routine.WaitFirst(a.WaitFirst),
	}
	if a.Iterations > 0 {
		opts = append(opts, routine.Iterations(a.Iterations))
	}
	switch {
	case strings.TrimSpace(a.At) != "":
		ct, err := config.ParseClockField("at", a.At)
		if err != nil {
			return nil, err
		}
		opts = append(opts, routine.At(routine.Clock{
			Hour: ct.Hour, Minute: ct.Minute, Second: ct.Second,
		}))
	default:
		d, err := config.ParseDurationField("interval", a.Interval)
		if err != nil {
			return nil, err
		}
		opts = append(opts, routine.Every(d))
	}

	message := a.Message
	return s.mgr.New(func(ctx context.Context) error {
		if initialWait > 0 {
			t := time.NewTimer(initialWait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		return s.post(ctx, message)
	}, opts...)
}

func (s *Service) post(ctx context.Context, message string) error {
	s.mu.Lock()
	target := s.target
	limiter := s.limiter
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.sender.SendText(ctx, target, message, nil)
	if err != nil {
		s.log.Warn("announcement send failed", logx.Err(err))
	}
	return err
}

// Stop cancels every scheduled announcement.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mgr.Clear()
}
