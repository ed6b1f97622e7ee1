// Package collyfetcher performs website checks with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober implements monitor.Prober with a single GET per check. Redirects are
// followed; nothing is retried.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
	clock         monitor.Clock
	logger        *zap.Logger
	patterns      sync.Map // string -> *regexp.Regexp or error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// probeOutcome is filled in by collector callbacks.
type probeOutcome struct {
	responded bool
	failed    bool
	status    int
	body      []byte
	elapsed   time.Duration
	err       error
}

// New builds a Prober. Clones of the base collector share its HTTP client, so
// the timeout and transport are set once here.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Prober{
		cfg:           cfg,
		baseCollector: c,
		clock:         clock,
		logger:        logger,
	}
}

// Probe checks entry once. Every outcome, including failures, becomes a Metric.
func (p *Prober) Probe(ctx context.Context, entry monitor.WatchEntry) monitor.Metric {
	at := p.clock.Now()
	if err := validateURL(entry.URL); err != nil {
		p.logger.Debug("Rejected watch entry URL", zap.Int64("url_id", entry.ID), zap.Error(err))
		return monitor.NewMetric(at, 0, monitor.CodeLocalFailure, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout+time.Second)
	defer cancel()

	start := time.Now()
	collector := p.buildCollector(ctx)
	outcome := &probeOutcome{}
	p.configureCollectorHooks(collector, start, outcome)
	result, visitErr := p.runCollector(ctx, collector, entry.URL, outcome)

	code := result.returnCode(visitErr, ctx.Err() != nil)
	elapsed := result.elapsed
	if elapsed == 0 {
		elapsed = time.Since(start)
	}

	var check *bool
	if code == http.StatusOK && entry.Pattern() != "" {
		check = p.match(entry, result.body)
	}

	fields := []zap.Field{
		zap.Int64("url_id", entry.ID),
		zap.String("url", entry.URL),
		zap.Int("code", code),
		zap.Duration("elapsed", elapsed),
	}
	if visitErr != nil {
		fields = append(fields, zap.NamedError("visit_error", visitErr))
	}
	if result.err != nil {
		fields = append(fields, zap.NamedError("response_error", result.err))
	}
	p.logger.Debug("Checked website", fields...)

	return monitor.NewMetric(at, elapsed, code, check)
}

func (p *Prober) buildCollector(ctx context.Context) *colly.Collector {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.Context = ctx
	return collector
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, start time.Time, outcome *probeOutcome) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "*/*")
	})

	hooks.OnResponse(func(r *colly.Response) {
		outcome.responded = true
		outcome.status = r.StatusCode
		outcome.body = r.Body
		outcome.elapsed = time.Since(start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		outcome.failed = true
		outcome.err = err
		outcome.elapsed = time.Since(start)
		if r != nil {
			outcome.status = r.StatusCode
		}
	})
}

// runCollector visits url and returns the outcome once the visit ends. If ctx
// ends first the outcome is discarded.
func (p *Prober) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	outcome *probeOutcome,
) (probeOutcome, error) {
	type visitResult struct {
		outcome probeOutcome
		err     error
	}
	done := make(chan visitResult, 1)
	go func() {
		err := collector.Visit(url)
		done <- visitResult{outcome: *outcome, err: err}
	}()

	select {
	case <-ctx.Done():
		return probeOutcome{}, fmt.Errorf("colly visit canceled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return res.outcome, fmt.Errorf("colly visit failed: %w", res.err)
		}
		return res.outcome, nil
	}
}

// returnCode maps the outcome to an HTTP status or a reserved code: a failed
// exchange without a status is a transport failure, a visit that never
// reached the network is a local failure.
func (o probeOutcome) returnCode(visitErr error, timedOut bool) int {
	switch {
	case o.failed && o.status > 0:
		return o.status
	case o.failed, timedOut:
		return monitor.CodeTransportFailure
	case o.responded && visitErr == nil:
		return o.status
	default:
		return monitor.CodeLocalFailure
	}
}

func (p *Prober) match(entry monitor.WatchEntry, body []byte) *bool {
	re, err := p.compile(entry.Pattern())
	if err != nil {
		p.logger.Warn("Invalid content pattern", zap.Int64("url_id", entry.ID), zap.Error(err))
		matched := false
		return &matched
	}
	text, err := unicode.UTF8.NewDecoder().Bytes(body)
	if err != nil {
		text = body
	}
	matched := re.Match(text)
	return &matched
}

func (p *Prober) compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := p.patterns.Load(pattern); ok {
		switch v := cached.(type) {
		case *regexp.Regexp:
			return v, nil
		case error:
			return nil, v
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		err = fmt.Errorf("compile %q: %w", pattern, err)
		p.patterns.Store(pattern, err)
		return nil, err
	}
	p.patterns.Store(pattern, re)
	return re, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
