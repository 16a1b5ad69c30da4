package parsers

import (
	"context"
	"net/http"
	"time"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/jfk9w-go/flu/logf"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/post"
)

var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// NewNoRedirectClient creates an HTTP client which returns redirect
// responses instead of following them.
func NewNoRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Session is the shared state of a single platform parser: its HTTP
// client, cookie state and back-reference to the dispatcher for
// recursive short link resolution.
type Session struct {
	Platform   post.Platform
	Client     httpf.Client
	Dispatcher Dispatcher
	Cookies    *CookieState
	Retries    int
	RetryAfter time.Duration
}

func (s *Session) String() string {
	return "parser." + s.Platform.Name
}

func (s *Session) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.Client.Do(req)
	logf.Get(s).Resultf(req.Context(), logf.Trace, logf.Warn, "%s => %v", &httpf.RequestBuilder{Request: req}, err)
	return resp, err
}

// Request applies a header profile and the current cookie to the builder.
// The cookie is shared between all header profiles of the platform.
func (s *Session) Request(req *httpf.RequestBuilder, headers http.Header) *httpf.RequestBuilder {
	for key, values := range headers {
		for _, value := range values {
			req.Header(key, value)
		}
	}

	if s.Cookies != nil {
		if cookie := s.Cookies.Get(); cookie != "" {
			req.Header("Cookie", cookie)
		}
	}

	return req
}

// UpdateCookies merges Set-Cookie values from the response into the
// session cookie state. Failure to persist is logged, not fatal.
func (s *Session) UpdateCookies(ctx context.Context, resp *http.Response) {
	if s.Cookies == nil {
		return
	}

	if err := s.Cookies.Update(ctx, resp.Cookies()); err != nil {
		logf.Get(s).Warnf(ctx, "update cookies: %s", err)
	}
}

// ResolveRedirect requests the short link without following redirects,
// extracts the target location and dispatches it through the registry again.
// A non-redirect status, a missing location and a location no binding
// recognizes are all unresolved redirects.
func (s *Session) ResolveRedirect(ctx context.Context, rawURL string, headers http.Header) (*post.ParseResult, error) {
	var location string
	if err := s.Request(httpf.GET(rawURL), headers).
		Exchange(ctx, s).
		HandleFunc(func(resp *http.Response) error {
			s.UpdateCookies(ctx, resp)
			if !redirectStatuses[resp.StatusCode] {
				return errors.Wrapf(ErrUnresolvedRedirect, "unexpected status %d", resp.StatusCode)
			}

			location = resp.Header.Get("Location")
			if location == "" {
				return errors.Wrap(ErrUnresolvedRedirect, "no location header")
			}

			return nil
		}).
		Error(); err != nil {
		return nil, err
	}

	match, ok := s.Dispatcher.Match(location)
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedRedirect, "no binding for [%s]", location)
	}

	return s.Dispatcher.Dispatch(ctx, match)
}

// Mirrors tries equivalent endpoints in order, moving on to the next
// one after any failure. There are no retries within a mirror here:
// retrying a single endpoint is a separate policy (see Retry).
func (s *Session) Mirrors(ctx context.Context, urls []string, body func(ctx context.Context, rawURL string) (*post.ParseResult, error)) (*post.ParseResult, error) {
	var lastErr error
	for _, rawURL := range urls {
		result, err := body(ctx, rawURL)
		if err == nil {
			return result, nil
		}

		if syncf.IsContextRelated(err) {
			return nil, err
		}

		logf.Get(s).Warnf(ctx, "mirror [%s]: %s", rawURL, err)
		lastErr = err
	}

	if lastErr == nil {
		return nil, errors.Wrap(ErrUpstreamUnavailable, "no mirrors")
	}

	return nil, errors.Wrapf(ErrUpstreamUnavailable, "all mirrors failed: %s", lastErr)
}

// Retry runs the body against a single endpoint with a small fixed
// number of retries and a linearly growing delay between attempts.
func (s *Session) Retry(ctx context.Context, body func(ctx context.Context) error) error {
	retryAfter := s.RetryAfter
	if retryAfter <= 0 {
		retryAfter = time.Second
	}

	var err error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			if err := flu.Sleep(ctx, time.Duration(attempt)*retryAfter); err != nil {
				return err
			}
		}

		if err = body(ctx); err == nil || syncf.IsContextRelated(err) {
			return err
		}

		logf.Get(s).Debugf(ctx, "attempt %d: %s", attempt, err)
	}

	return err
}

// MapMedia converts a payload media shape into ordered contents.
// A non-empty image set takes priority over a video URL present in the
// same payload: such a video is a preview rendition, not an extra entry.
func (s *Session) MapMedia(loader Media, imageURLs []string, videoURL, coverURL string, duration float64, headers http.Header) ([]post.Content, error) {
	options := media.Options{Headers: headers}
	if len(imageURLs) > 0 {
		contents := make([]post.Content, len(imageURLs))
		for i, rawURL := range imageURLs {
			contents[i] = post.ImageContent{Media: loader.ScheduleImage(rawURL, options)}
		}

		return contents, nil
	}

	if videoURL != "" {
		video := post.VideoContent{
			Media:    loader.ScheduleVideo(videoURL, options),
			Duration: duration,
		}

		if coverURL != "" {
			video.Cover = loader.ScheduleImage(coverURL, options)
		}

		return []post.Content{video}, nil
	}

	return nil, ErrNoUsableMedia
}

// Author schedules the avatar download and fills the author value,
// or returns nil when the payload carries no author name.
func (s *Session) Author(loader Media, name, avatarURL string, headers http.Header) *post.Author {
	if name == "" {
		return nil
	}

	author := &post.Author{Name: name}
	if avatarURL != "" {
		author.Avatar = loader.ScheduleImage(avatarURL, media.Options{Headers: headers})
	}

	return author
}
