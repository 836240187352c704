package fetch

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// session is the reusable connection state for one origin: a resty client
// with its own cookie jar, a fixed header profile and an optional pacer.
type session struct {
	origin  string
	client  *resty.Client
	profile HeaderProfile
	limiter *rate.Limiter
}

// sessionCache is a read-mostly map of origin to session. Each origin is
// populated at most once for the cache's lifetime.
type sessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*session
	build    func(origin string, seq int) (*session, error)
	seq      int
}

func newSessionCache(build func(origin string, seq int) (*session, error)) *sessionCache {
	return &sessionCache{
		sessions: make(map[string]*session),
		build:    build,
	}
}

func (sc *sessionCache) get(origin string) (*session, error) {
	sc.mu.RLock()
	s, ok := sc.sessions[origin]
	sc.mu.RUnlock()
	if ok {
		return s, nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if s, ok := sc.sessions[origin]; ok {
		return s, nil
	}
	s, err := sc.build(origin, sc.seq)
	if err != nil {
		return nil, &SessionError{Origin: origin, Err: err}
	}
	sc.seq++
	sc.sessions[origin] = s
	slog.Debug("session created",
		slog.String("origin", origin),
		slog.String("user_agent", s.profile.UserAgent),
	)
	return s, nil
}

func (sc *sessionCache) len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.sessions)
}

// reset closes idle connections of every session and empties the cache.
func (sc *sessionCache) reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for origin, s := range sc.sessions {
		s.client.GetClient().CloseIdleConnections()
		delete(sc.sessions, origin)
	}
	sc.seq = 0
}

func (c *Client) newSession(origin string, seq int) (*session, error) {
	profile := c.opts.HeaderProfiles[seq%len(c.opts.HeaderProfiles)]

	rc := resty.New().
		SetLogger(restyLogger{origin: origin}).
		SetHeaders(profile.headers())
	if c.opts.Transport != nil {
		rc.SetTransport(c.opts.Transport)
	}
	if len(c.opts.Proxies) > 0 {
		proxy := c.opts.Proxies[seq%len(c.opts.Proxies)]
		parsed, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("proxy %q must include scheme and host", proxy)
		}
		rc.SetProxy(proxy)
	}

	s := &session{
		origin:  origin,
		client:  rc,
		profile: profile,
	}
	if c.opts.RequestsPerSecond > 0 {
		burst := int(c.opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), burst)
	}
	return s, nil
}

// restyLogger routes resty's internal messages into slog.
type restyLogger struct {
	origin string
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("origin", l.origin))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...), slog.String("origin", l.origin))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), slog.String("origin", l.origin))
}
