package ratelimit

import (
	"net/http"
	"strconv"
)

// Scope selects what a bucket key is derived from.
type Scope int

const (
	// ScopeIP keys buckets by client address.
	ScopeIP Scope = iota
	// ScopeUser keys buckets by authenticated user.
	ScopeUser
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Key returns the bucket key of id in this tier.
func (t *Tier) Key(id string) string {
	prefix := "ip"
	if t.Scope == ScopeUser {
		prefix = "user"
	}
	return prefix + ":" + id + ":" + t.Name
}

// Limits are requests per minute. Zero disables a tier.
type Limits struct {
	Auth  int
	Write int
	Read  int
}

// Config holds the tiers of the API.
type Config struct {
	Auth  *Tier
	Write *Tier
	Read  *Tier
}

// New builds the tiers for l. Bursts are a tenth of the per-minute rate,
// except login which allows its whole budget at once.
func New(l Limits) *Config {
	tier := func(name string, perMinute, burst int, scope Scope) *Tier {
		if perMinute == 0 {
			return nil
		}
		return &Tier{Name: name, Limiter: NewLimiter(perMinute, burst), Scope: scope}
	}
	return &Config{
		Auth:  tier("auth", l.Auth, l.Auth, ScopeIP),
		Write: tier("write", l.Write, l.Write/10, ScopeUser),
		Read:  tier("read", l.Read, l.Read/10, ScopeUser),
	}
}

// MatchUnauth returns the tier of an unauthenticated request, or nil.
func (c *Config) MatchUnauth(method, path string) *Tier {
	if method == http.MethodPost && path == "/api/auth/login" {
		return c.Auth
	}
	return nil
}

// MatchAuth returns the tier of an authenticated request by method, or nil.
func (c *Config) MatchAuth(method string) *Tier {
	switch method {
	case http.MethodGet, http.MethodHead:
		return c.Read
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return c.Write
	}
	return nil
}

// Close stops every limiter.
func (c *Config) Close() {
	for _, t := range []*Tier{c.Auth, c.Write, c.Read} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

// WriteHeaders sets the X-RateLimit headers, and Retry-After when the
// request was refused.
func WriteHeaders(w http.ResponseWriter, r Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
	if !r.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(r.RetryAfter.Seconds())))
	}
}
