package parsers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/jfk9w-go/flu/logf"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
)

// CookieStorage persists per-platform cookie strings.
type CookieStorage interface {
	GetCookie(ctx context.Context, platform string) (string, error)
	SaveCookie(ctx context.Context, platform, cookie string) error
}

// CookieState holds the platform cookie as a single "k=v; k2=v2" string
// with names sorted, so equal cookie sets always serialize identically.
// Updates are merged by cookie name under a write lock and persisted
// only when the merged value actually changed.
type CookieState struct {
	platform string
	storage  CookieStorage
	mu       syncf.RWMutex
	value    string
}

func NewCookieState(platform string, storage CookieStorage) *CookieState {
	return &CookieState{
		platform: platform,
		storage:  storage,
	}
}

func (s *CookieState) String() string {
	return "cookies." + s.platform
}

// Load initializes the state from the persisted record.
// A non-empty seed takes priority over the stored value.
func (s *CookieState) Load(ctx context.Context, seed string) error {
	ctx, cancel := s.mu.Lock(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	defer cancel()

	if seed != "" {
		s.value = mergeCookieString("", seed)
		return nil
	}

	if s.storage == nil {
		return nil
	}

	value, err := s.storage.GetCookie(ctx, s.platform)
	if err != nil {
		return errors.Wrap(err, "load cookie")
	}

	s.value = mergeCookieString("", value)
	if s.value != "" {
		logf.Get(s).Infof(ctx, "loaded stored cookie")
	}

	return nil
}

// Get returns the current serialized cookie.
func (s *CookieState) Get() string {
	_, cancel := s.mu.RLock(nil)
	defer cancel()
	return s.value
}

// Update merges Set-Cookie values into the state by cookie name and
// persists the new value if it differs from the current one.
func (s *CookieState) Update(ctx context.Context, setCookies []*http.Cookie) error {
	if len(setCookies) == 0 {
		return nil
	}

	ctx, cancel := s.mu.Lock(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	defer cancel()

	merged := mergeCookies(s.value, setCookies)
	if merged == s.value {
		return nil
	}

	s.value = merged
	logf.Get(s).Debugf(ctx, "merged %d response cookies", len(setCookies))
	if s.storage == nil {
		return nil
	}

	return errors.Wrap(s.storage.SaveCookie(ctx, s.platform, merged), "save cookie")
}

func mergeCookies(value string, setCookies []*http.Cookie) string {
	pairs := cookiePairs(value)
	for _, cookie := range setCookies {
		if cookie.Name != "" {
			pairs[cookie.Name] = cookie.Value
		}
	}

	return serializeCookies(pairs)
}

func mergeCookieString(value, update string) string {
	pairs := cookiePairs(value)
	for name, pairValue := range cookiePairs(update) {
		pairs[name] = pairValue
	}

	return serializeCookies(pairs)
}

func cookiePairs(value string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		if name, pairValue, ok := strings.Cut(strings.TrimSpace(part), "="); ok && name != "" {
			pairs[name] = pairValue
		}
	}

	return pairs
}

func serializeCookies(pairs map[string]string) string {
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}

	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}

		b.WriteString(name)
		b.WriteRune('=')
		b.WriteString(pairs[name])
	}

	return b.String()
}
