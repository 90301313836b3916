package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gpbackup/internal/eventbus"
	rtsup "gpbackup/internal/runtime/supervisor"
	"gpbackup/internal/transport"
	logx "gpbackup/pkg/logx"
)

type channel struct {
	sender  transport.Sender
	queue   chan string
	limiter *rate.Limiter
}

// Service is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	log       logx.Logger
	bus       eventbus.Bus
	cfg       Config
	senders   []transport.Sender
	chans     []*channel
	accepting bool
	sendWG    sync.WaitGroup
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	hmu     sync.Mutex
	history []HistoryItem

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a stopped Service. bus may be nil.
func New(cfg Config, senders []transport.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	out := make([]transport.Sender, 0, len(senders))
	for _, snd := range senders {
		if snd != nil {
			out = append(out, snd)
		}
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		senders: out,
		log:     log,
		bus:     bus,
		sleep:   sleepCtx,
	}
}

// Channels lists the configured sender names.
func (s *Service) Channels() []string {
	names := make([]string, 0, len(s.senders))
	for _, snd := range s.senders {
		names = append(names, snd.Name())
	}
	return names
}

// Supervisor returns the worker supervisor (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches one worker per channel. Workers are detached from ctx
// cancellation so notices queued during shutdown can still go out; Stop ends
// them. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.sup != nil {
		s.mu.Unlock()
		return
	}

	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.chans = make([]*channel, 0, len(s.senders))
	for _, snd := range s.senders {
		s.chans = append(s.chans, &channel{
			sender:  snd,
			queue:   make(chan string, s.cfg.QueueSize),
			limiter: rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.Burst),
		})
	}
	s.accepting = true
	sup, chans := s.sup, s.chans
	s.mu.Unlock()

	for _, ch := range chans {
		ch := ch
		sup.GoRestart("notify."+ch.sender.Name(), func(c context.Context) error {
			return s.worker(c, ch)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Any("channels", s.Channels()))
}

// Stop stops intake and drains the queues best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	chans := s.chans
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		for _, ch := range chans {
			close(ch.queue)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.sup = nil
		s.chans = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pending := 0
		for _, ch := range chans {
			pending += len(ch.queue)
		}
		s.log.Warn("notifier stop deadline reached, abandoning queued notices", logx.Int("pending", pending))
		sup.Cancel()
	}
}

// Notify queues text on every channel. It never blocks on delivery and never
// fails; problems are logged.
func (s *Service) Notify(ctx context.Context, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		s.log.Warn("notifier not running, notice dropped", logx.String("text", text))
		return
	}
	chans := s.chans
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	for _, ch := range chans {
		select {
		case ch.queue <- text:
		default:
			name := ch.sender.Name()
			s.log.Warn("notify queue full, notice dropped", logx.String("channel", name), logx.Int("cap", cap(ch.queue)))
			s.publish(EventDropped, NotificationEvent{Channel: name, Error: "queue full"})
			s.appendHistory(HistoryItem{Channel: name, Text: text, Error: "queue full"})
		}
	}
}

// History returns the most recent deliveries and failures, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	if it.At.IsZero() {
		it.At = time.Now()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if n := len(s.history) - s.cfg.HistorySize; n > 0 {
		s.history = append(s.history[:0], s.history[n:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) worker(ctx context.Context, ch *channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-ch.queue:
			if !ok {
				return nil
			}
			s.deliver(ctx, ch, text)
		}
	}
}

func (s *Service) deliver(ctx context.Context, ch *channel, text string) {
	name := ch.sender.Name()
	log := s.log.With(logx.String("channel", name))
	maxAttempts := 1 + s.cfg.RetryMax

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := ch.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := ch.sender.Send(callCtx, text)
		cancel()
		if err == nil {
			log.Info("notice sent", logx.Int("attempt", attempt))
			s.appendHistory(HistoryItem{Channel: name, Text: text, Attempts: attempt})
			s.publish(EventSent, NotificationEvent{Channel: name, Attempts: attempt})
			return
		}
		lastErr = err
		if errors.Is(err, transport.ErrEmptyMessage) || transport.IsPermanent(err) {
			break
		}
		log.Debug("notice send failed", logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}
		if err := s.sleep(ctx, retryDelay(s.cfg, attempt)); err != nil {
			lastErr = err
			break
		}
	}

	log.Error("notice delivery failed", logx.Int("attempts", attempt), logx.Err(lastErr))
	s.appendHistory(HistoryItem{Channel: name, Text: text, Attempts: attempt, Error: lastErr.Error()})
	s.publish(EventFailed, NotificationEvent{Channel: name, Attempts: attempt, Error: lastErr.Error()})
}

// retryDelay is RetryBase * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
