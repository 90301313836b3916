package gportal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tebeka/selenium"

	"gpbackup/internal/automation"
	logx "gpbackup/pkg/logx"
)

// Panel selectors.
const (
	SelLoginButton  = "button[aria-label='Login']"
	SelUsername     = "#username"
	SelPassword     = "#password"
	SelLoginSubmit  = "[name=login]"
	SelMakeBackup   = "#make_backup"
	SelDialog       = ".dialog__actions"
	SelNotification = ".notification--success"

	consentCookie  = "cookiefirst-consent"
	consentVersion = "10f415a9-8c26-4538-8cbf-5b14f58a1ae2"
)

// stepGrace bounds how long an aborted step may keep running after Quit.
const stepGrace = 5 * time.Second

// Session is a live WebDriver session on the panel.
type Session struct {
	wd  selenium.WebDriver
	cfg Config
	log logx.Logger
	now func() time.Time
	id  string
	// grace is stepGrace outside tests.
	grace time.Duration

	mu       sync.Mutex
	closed   bool
	closeErr error
}

var _ automation.Session = (*Session)(nil)

func newSession(wd selenium.WebDriver, cfg Config, log logx.Logger, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{wd: wd, cfg: cfg, now: now, id: wd.SessionID(), grace: stepGrace}
	s.log = log.With(logx.String("session", s.id))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close quits the remote browser. Only the first call talks to the hub.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.wd.Quit()
	if err != nil {
		s.log.Debug("webdriver quit failed", logx.Err(err))
	}
	return err
}

// Login accepts the cookie banner through its consent cookie and signs in.
func (s *Session) Login(ctx context.Context) error {
	return s.run(ctx, automation.StepLogin, func() error {
		if err := s.wd.Get(s.cfg.BaseURL); err != nil {
			return &automation.StepError{Step: automation.StepLogin, Err: fmt.Errorf("open %s: %w", s.cfg.BaseURL, err)}
		}
		if err := s.wd.AddCookie(s.consent()); err != nil {
			return &automation.StepError{Step: automation.StepLogin, Err: fmt.Errorf("set consent cookie: %w", err)}
		}
		if err := s.wd.Refresh(); err != nil {
			return &automation.StepError{Step: automation.StepLogin, Err: fmt.Errorf("refresh: %w", err)}
		}

		btn, err := s.waitFor(automation.StepLogin, SelLoginButton, clickable)
		if err != nil {
			return err
		}
		if err := btn.Click(); err != nil {
			return stepErr(automation.StepLogin, SelLoginButton, err)
		}

		user, err := s.waitFor(automation.StepLogin, SelUsername, visible)
		if err != nil {
			return err
		}
		if err := user.SendKeys(s.cfg.Username); err != nil {
			return stepErr(automation.StepLogin, SelUsername, err)
		}
		if err := s.find(automation.StepLogin, SelPassword, func(el selenium.WebElement) error {
			return el.SendKeys(s.cfg.Password)
		}); err != nil {
			return err
		}
		return s.find(automation.StepLogin, SelLoginSubmit, func(el selenium.WebElement) error {
			return el.Click()
		})
	})
}

// PerformBackup opens the backup page and triggers a backup. A fake run opens
// the same dialog and dismisses it.
func (s *Session) PerformBackup(ctx context.Context, fake bool) error {
	return s.run(ctx, automation.StepBackup, func() error {
		if err := s.wd.Get(s.cfg.BackupURL); err != nil {
			return &automation.StepError{Step: automation.StepBackup, Err: fmt.Errorf("open %s: %w", s.cfg.BackupURL, err)}
		}
		btn, err := s.waitFor(automation.StepBackup, SelMakeBackup, clickable)
		if err != nil {
			return err
		}
		if err := btn.Click(); err != nil {
			return stepErr(automation.StepBackup, SelMakeBackup, err)
		}

		dialog, err := s.waitFor(automation.StepBackup, SelDialog, present)
		if err != nil {
			return err
		}
		buttons, err := dialog.FindElements(selenium.ByTagName, "button")
		if err != nil || len(buttons) < 2 {
			if err == nil {
				err = fmt.Errorf("dialog has %d button(s)", len(buttons))
			}
			return &automation.StepError{Step: automation.StepBackup, Affordance: SelDialog + " button", Err: fmt.Errorf("%w: %v", automation.ErrAffordanceMissing, err)}
		}

		// [0] cancel, [1] confirm
		pick := 1
		if fake {
			pick = 0
		}
		if err := buttons[pick].Click(); err != nil {
			return stepErr(automation.StepBackup, SelDialog+" button", err)
		}
		if fake {
			s.log.Info("backup dialog dismissed (dry run)")
			return nil
		}

		s.log.Info("backup confirmed, waiting for the panel")
		_, err = s.waitFor(automation.StepBackup, SelNotification, present)
		return err
	})
}

// run executes fn on its own goroutine and returns when it finishes or ctx
// ends, whichever is first. When ctx ends first the session is closed, which
// fails the in-flight WebDriver command, and run waits up to grace for fn to
// return. After an abort the session is unusable.
func (s *Session) run(ctx context.Context, step string, fn func() error) error {
	if s.Closed() {
		return &automation.StepError{Step: step, Err: automation.ErrSessionClosed}
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &automation.StepError{Step: step, Err: fmt.Errorf("webdriver panic: %v", r)}
			}
		}()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	_ = s.Close()
	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.log.Warn("step still running after quit", logx.String("step", step), logx.Duration("grace", s.grace))
	}
	return &automation.StepError{Step: step, Err: ctx.Err()}
}

type elementCheck func(el selenium.WebElement) (bool, error)

func present(selenium.WebElement) (bool, error) { return true, nil }

func visible(el selenium.WebElement) (bool, error) { return el.IsDisplayed() }

func clickable(el selenium.WebElement) (bool, error) {
	ok, err := el.IsDisplayed()
	if err != nil || !ok {
		return false, err
	}
	return el.IsEnabled()
}

// waitFor polls until sel matches an element satisfying check, for at most
// ElementWait.
func (s *Session) waitFor(step, sel string, check elementCheck) (selenium.WebElement, error) {
	var found selenium.WebElement
	err := s.wd.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		el, err := wd.FindElement(selenium.ByCSSSelector, sel)
		if err != nil {
			return false, nil
		}
		ok, err := check(el)
		if err != nil || !ok {
			return false, nil
		}
		found = el
		return true, nil
	}, s.cfg.ElementWait)
	if err != nil || found == nil {
		if err == nil {
			err = errors.New("no element")
		}
		return nil, &automation.StepError{Step: step, Affordance: sel, Err: fmt.Errorf("%w: %v", automation.ErrAffordanceMissing, err)}
	}
	return found, nil
}

func (s *Session) find(step, sel string, use func(selenium.WebElement) error) error {
	el, err := s.wd.FindElement(selenium.ByCSSSelector, sel)
	if err != nil {
		return &automation.StepError{Step: step, Affordance: sel, Err: fmt.Errorf("%w: %v", automation.ErrAffordanceMissing, err)}
	}
	if err := use(el); err != nil {
		return stepErr(step, sel, err)
	}
	return nil
}

func stepErr(step, sel string, err error) error {
	return &automation.StepError{Step: step, Affordance: sel, Err: err}
}

func (s *Session) consent() *selenium.Cookie {
	v, _ := json.Marshal(map[string]any{
		"necessary":   true,
		"performance": false,
		"functional":  true,
		"advertising": false,
		"timestamp":   float64(s.now().UnixNano()) / 1e9,
		"type":        "category",
		"version":     consentVersion,
	})
	return &selenium.Cookie{Name: consentCookie, Value: string(v), Path: "/"}
}
