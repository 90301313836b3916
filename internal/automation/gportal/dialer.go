package gportal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"

	"gpbackup/internal/automation"
	logx "gpbackup/pkg/logx"
)

const (
	DefaultElementWait    = 10 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

type Config struct {
	HubURL   string // e.g. http://localhost:4444/wd/hub
	Browser  string // firefox|chrome|edge
	Headless bool

	BaseURL   string
	BackupURL string
	Username  string
	Password  string

	ElementWait    time.Duration
	RequestTimeout time.Duration
}

// HubURL builds the WebDriver endpoint from a host (optionally with scheme)
// and a port.
func HubURL(host, port string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if port = strings.TrimSpace(port); port != "" {
		host += ":" + port
	}
	return host + "/wd/hub"
}

type remoteFunc func(caps selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error)

// Dialer opens G-Portal sessions on a WebDriver hub.
type Dialer struct {
	cfg       Config
	log       logx.Logger
	newRemote remoteFunc
	now       func() time.Time
}

var httpClientOnce sync.Once

// NewDialer returns a Dialer. The first call also installs a bounded HTTP
// client for the selenium package; its client is process-global.
func NewDialer(cfg Config, log logx.Logger) *Dialer {
	if cfg.ElementWait <= 0 {
		cfg.ElementWait = DefaultElementWait
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.RequestTimeout
	httpClientOnce.Do(func() {
		selenium.HTTPClient = &http.Client{Timeout: timeout}
	})
	return &Dialer{cfg: cfg, log: log, newRemote: selenium.NewRemote, now: time.Now}
}

// Capabilities returns the session capabilities for the configured browser.
func (d *Dialer) Capabilities() selenium.Capabilities {
	browser := strings.ToLower(strings.TrimSpace(d.cfg.Browser))
	caps := selenium.Capabilities{"pageLoadStrategy": "eager"}
	switch browser {
	case "chrome":
		caps["browserName"] = "chrome"
		cc := chrome.Capabilities{W3C: true}
		if d.cfg.Headless {
			cc.Args = append(cc.Args, "--headless=new", "--no-sandbox", "--disable-dev-shm-usage")
		}
		caps.AddChrome(cc)
	case "edge", "msedge":
		caps["browserName"] = "MicrosoftEdge"
		if d.cfg.Headless {
			caps["ms:edgeOptions"] = map[string]any{"args": []string{"--headless=new"}}
		}
	default:
		caps["browserName"] = "firefox"
		fc := firefox.Capabilities{}
		if d.cfg.Headless {
			fc.Args = append(fc.Args, "-headless")
		}
		caps.AddFirefox(fc)
	}
	return caps
}

// Dial creates a remote browser session. If ctx ends first, the late session
// is quit as soon as the hub hands it over.
func (d *Dialer) Dial(ctx context.Context) (automation.Session, error) {
	type result struct {
		wd  selenium.WebDriver
		err error
	}
	ch := make(chan result, 1)
	caps := d.Capabilities()
	go func() {
		wd, err := d.newRemote(caps, d.cfg.HubURL)
		ch <- result{wd: wd, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("new remote session at %s: %w", d.cfg.HubURL, r.err)
		}
		s := newSession(r.wd, d.cfg, d.log, d.now)
		d.log.Debug("webdriver session created", logx.String("session", s.ID()), logx.String("browser", fmt.Sprint(caps["browserName"])))
		return s, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.wd != nil {
				_ = r.wd.Quit()
			}
		}()
		return nil, ctx.Err()
	}
}
