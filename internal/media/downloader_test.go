package media

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/jfk9w-go/flu/me3x"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type clientFunc func(req *http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse(body string) *http.Response {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"video/mp4"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func errorResponse(code int) *http.Response {
	return &http.Response{
		Status:     http.StatusText(code),
		StatusCode: code,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func newTestDownloader(t *testing.T, dir string, client httpf.Client) *downloader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := &downloader{
		clock:      syncf.DefaultClock,
		client:     client,
		muxer:      FFmpegMuxer{},
		dir:        flu.File(dir),
		retries:    1,
		retryAfter: time.Millisecond,
		metrics:    me3x.DummyRegistry{},
		ctx:        ctx,
		cancel:     cancel,
		queue:      syncf.Semaphore(nil, 2, 0),
		refs:       make(map[string]*Ref),
	}

	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDownloader_ScheduleIsIdempotent(t *testing.T) {
	var calls int32
	d := newTestDownloader(t, t.TempDir(), clientFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return okResponse("video data"), nil
	}))

	first := d.ScheduleVideo("https://example.com/video.mp4", Options{})
	second := d.ScheduleVideo("https://example.com/video.mp4", Options{})
	assert.Same(t, first, second)

	file, err := first.Get(context.Background())
	assert.Nil(t, err)

	content, err := flu.ToString(file)
	assert.Nil(t, err)
	assert.Equal(t, "video data", content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDownloader_DiskCache(t *testing.T) {
	dir := t.TempDir()
	d := newTestDownloader(t, dir, clientFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse("cached data"), nil
	}))

	_, err := d.ScheduleVideo("https://example.com/video.mp4", Options{}).Get(context.Background())
	assert.Nil(t, err)

	offline := newTestDownloader(t, dir, clientFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("must not be called")
	}))

	file, err := offline.ScheduleVideo("https://example.com/video.mp4", Options{}).Get(context.Background())
	assert.Nil(t, err)

	content, err := flu.ToString(file)
	assert.Nil(t, err)
	assert.Equal(t, "cached data", content)
}

func TestDownloader_RetriesTransientFailures(t *testing.T) {
	var calls int32
	d := newTestDownloader(t, t.TempDir(), clientFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errorResponse(http.StatusServiceUnavailable), nil
		}

		return okResponse("video data"), nil
	}))

	_, err := d.ScheduleVideo("https://example.com/video.mp4", Options{}).Get(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDownloader_GivesUpAfterRetries(t *testing.T) {
	var calls int32
	d := newTestDownloader(t, t.TempDir(), clientFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return errorResponse(http.StatusServiceUnavailable), nil
	}))

	_, err := d.ScheduleImage("https://example.com/image.jpg", Options{}).Get(context.Background())
	assert.NotNil(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, ".jpeg", fileExtension("image", "https://example.com/a/b.jpeg?x=1"))
	assert.Equal(t, ".jpg", fileExtension("image", "https://example.com/a/b"))
	assert.Equal(t, ".mp4", fileExtension("video", "https://example.com/a/b"))
}
