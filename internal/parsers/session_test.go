package parsers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jfk9w-go/flu"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/post"
)

type clientFunc func(req *http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

type stubDispatcher struct {
	result   *post.ParseResult
	matched  []string
	bindings *Index
}

func (d *stubDispatcher) Match(text string) (Match, bool) {
	d.matched = append(d.matched, text)
	if d.bindings != nil {
		return d.bindings.Match(text)
	}

	if d.result == nil {
		return Match{}, false
	}

	return Match{Text: text, parser: &fakeParser{
		parse: func(ctx context.Context, match Match) (*post.ParseResult, error) {
			return d.result, nil
		},
	}}, true
}

func (d *stubDispatcher) Dispatch(ctx context.Context, match Match) (*post.ParseResult, error) {
	return match.parser.Parse(ctx, match)
}

type stubMedia struct {
	images []string
	videos []string
	muxes  [][2]string
}

func (m *stubMedia) ScheduleImage(rawURL string, _ media.Options) *media.Ref {
	m.images = append(m.images, rawURL)
	return media.Resolved(flu.File(rawURL))
}

func (m *stubMedia) ScheduleVideo(rawURL string, _ media.Options) *media.Ref {
	m.videos = append(m.videos, rawURL)
	return media.Resolved(flu.File(rawURL))
}

func (m *stubMedia) ScheduleMux(videoURL, audioURL string, _ media.Options) *media.Ref {
	m.muxes = append(m.muxes, [2]string{videoURL, audioURL})
	return media.Resolved(flu.File(videoURL))
}

func newTestSession(client clientFunc, dispatcher Dispatcher) *Session {
	return &Session{
		Platform:   post.Platform{Name: "test"},
		Client:     client,
		Dispatcher: dispatcher,
		Cookies:    NewCookieState("test", nil),
		Retries:    2,
		RetryAfter: time.Millisecond,
	}
}

func redirectResponse(location string) *http.Response {
	return &http.Response{
		Status:     "302 Found",
		StatusCode: http.StatusFound,
		Header:     http.Header{"Location": {location}},
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func plainResponse(code int) *http.Response {
	return &http.Response{
		Status:     http.StatusText(code),
		StatusCode: code,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestSession_ResolveRedirect(t *testing.T) {
	expected := &post.ParseResult{URL: "https://example.com/video/1"}
	dispatcher := &stubDispatcher{result: expected}
	session := newTestSession(func(req *http.Request) (*http.Response, error) {
		return redirectResponse("https://example.com/video/1"), nil
	}, dispatcher)

	result, err := session.ResolveRedirect(context.Background(), "https://e.xmpl/abc", nil)
	assert.Nil(t, err)
	assert.Equal(t, expected, result)
	assert.Equal(t, []string{"https://example.com/video/1"}, dispatcher.matched)
}

func TestSession_ResolveRedirect_NotARedirect(t *testing.T) {
	session := newTestSession(func(req *http.Request) (*http.Response, error) {
		return plainResponse(http.StatusOK), nil
	}, new(stubDispatcher))

	_, err := session.ResolveRedirect(context.Background(), "https://e.xmpl/abc", nil)
	assert.True(t, errors.Is(err, ErrUnresolvedRedirect))
}

func TestSession_ResolveRedirect_UnknownTarget(t *testing.T) {
	session := newTestSession(func(req *http.Request) (*http.Response, error) {
		return redirectResponse("https://elsewhere.example.com/"), nil
	}, new(stubDispatcher))

	_, err := session.ResolveRedirect(context.Background(), "https://e.xmpl/abc", nil)
	assert.True(t, errors.Is(err, ErrUnresolvedRedirect))
}

func TestSession_ResolveRedirect_CapturesCookies(t *testing.T) {
	dispatcher := &stubDispatcher{result: new(post.ParseResult)}
	session := newTestSession(func(req *http.Request) (*http.Response, error) {
		resp := redirectResponse("https://example.com/video/1")
		resp.Header.Add("Set-Cookie", "ttwid=abc")
		return resp, nil
	}, dispatcher)

	_, err := session.ResolveRedirect(context.Background(), "https://e.xmpl/abc", nil)
	assert.Nil(t, err)
	assert.Equal(t, "ttwid=abc", session.Cookies.Get())
}

func TestSession_Mirrors_FallsThrough(t *testing.T) {
	session := newTestSession(nil, nil)
	var tried []string
	result, err := session.Mirrors(context.Background(),
		[]string{"https://first.example.com", "https://second.example.com"},
		func(ctx context.Context, rawURL string) (*post.ParseResult, error) {
			tried = append(tried, rawURL)
			if len(tried) == 1 {
				return nil, errors.New("not available")
			}

			return &post.ParseResult{URL: rawURL}, nil
		})

	assert.Nil(t, err)
	assert.Equal(t, "https://second.example.com", result.URL)
	assert.Len(t, tried, 2)
}

func TestSession_Mirrors_AllFailed(t *testing.T) {
	session := newTestSession(nil, nil)
	_, err := session.Mirrors(context.Background(),
		[]string{"https://first.example.com", "https://second.example.com"},
		func(ctx context.Context, rawURL string) (*post.ParseResult, error) {
			return nil, errors.New("not available")
		})

	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestSession_Mirrors_ContextErrorStopsFallback(t *testing.T) {
	session := newTestSession(nil, nil)
	var tried int
	_, err := session.Mirrors(context.Background(),
		[]string{"https://first.example.com", "https://second.example.com"},
		func(ctx context.Context, rawURL string) (*post.ParseResult, error) {
			tried++
			return nil, context.Canceled
		})

	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 1, tried)
}

func TestSession_Retry(t *testing.T) {
	session := newTestSession(nil, nil)
	var attempts int
	err := session.Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}

		return nil
	})

	assert.Nil(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSession_Retry_GivesUp(t *testing.T) {
	session := newTestSession(nil, nil)
	session.Retries = 1
	var attempts int
	err := session.Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("not yet")
	})

	assert.EqualError(t, err, "not yet")
	assert.Equal(t, 2, attempts)
}

func TestSession_MapMedia_ImagesWinOverVideo(t *testing.T) {
	session := newTestSession(nil, nil)
	loader := new(stubMedia)

	contents, err := session.MapMedia(loader,
		[]string{"https://example.com/1.jpg", "https://example.com/2.jpg"},
		"https://example.com/video.mp4", "https://example.com/cover.jpg", 10,
		nil)

	assert.Nil(t, err)
	assert.Len(t, contents, 2)
	assert.IsType(t, post.ImageContent{}, contents[0])
	assert.Empty(t, loader.videos)
}

func TestSession_MapMedia_Video(t *testing.T) {
	session := newTestSession(nil, nil)
	loader := new(stubMedia)

	contents, err := session.MapMedia(loader,
		nil, "https://example.com/video.mp4", "https://example.com/cover.jpg", 12.5,
		nil)

	assert.Nil(t, err)
	assert.Len(t, contents, 1)

	video, ok := contents[0].(post.VideoContent)
	assert.True(t, ok)
	assert.Equal(t, 12.5, video.Duration)
	assert.NotNil(t, video.Cover)
	assert.Equal(t, []string{"https://example.com/video.mp4"}, loader.videos)
	assert.Equal(t, []string{"https://example.com/cover.jpg"}, loader.images)
}

func TestSession_MapMedia_Empty(t *testing.T) {
	session := newTestSession(nil, nil)
	_, err := session.MapMedia(new(stubMedia), nil, "", "", 0, nil)
	assert.True(t, errors.Is(err, ErrNoUsableMedia))
}
