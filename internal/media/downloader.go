package media

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/jfk9w-go/flu/logf"
	"github.com/jfk9w-go/flu/me3x"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
)

const ServiceID = "media.downloader"

type Config struct {
	Dir         string       `yaml:"dir,omitempty" doc:"Directory for downloaded media files." default:"media"`
	Concurrency int          `yaml:"concurrency,omitempty" doc:"Maximum number of concurrent downloads." default:"4"`
	Retries     int          `yaml:"retries,omitempty" doc:"Maximum download retries before giving up." default:"3"`
	RetryAfter  flu.Duration `yaml:"retryAfter,omitempty" format:"duration" doc:"Base delay before a download retry. Grows linearly with the attempt number." default:"\"2s\""`
}

type Context interface {
	apfel.PrometheusContext
	DownloaderConfig() Config
}

// Downloader schedules media downloads and hands out Refs for them.
// Scheduling the same URL twice returns the same Ref. Downloads run in a
// bounded worker pool and are cached on disk under deterministic names,
// so a file which is already present resolves without any network I/O.
type Downloader[C Context] struct {
	*downloader
}

func (d *Downloader[C]) String() string {
	return ServiceID
}

func (d *Downloader[C]) Include(ctx context.Context, app apfel.MixinApp[C]) error {
	if d.downloader != nil {
		return nil
	}

	var metrics apfel.Prometheus[C]
	if err := app.Use(ctx, &metrics, false); err != nil {
		return err
	}

	config := app.Config().DownloaderConfig()
	d.downloader = &downloader{
		clock:      app,
		client:     new(http.Client),
		muxer:      FFmpegMuxer{},
		dir:        flu.File(config.Dir),
		retries:    config.Retries,
		retryAfter: config.RetryAfter.Value,
		metrics:    metrics.Registry().WithPrefix("media"),
		queue:      syncf.Semaphore(app, config.Concurrency, 0),
		refs:       make(map[string]*Ref),
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	return app.Manage(ctx, d.downloader)
}

func (d *Downloader[C]) AfterInclude(ctx context.Context, app apfel.MixinApp[C], mixin apfel.Mixin[C]) error {
	if hashes, ok := mixin.(HashStorage); ok {
		d.hashes = hashes
		logf.Get(d).Infof(ctx, "using [%s] for duplicate detection", mixin)
	}

	return nil
}

// Options tune a single scheduled download.
type Options struct {
	// Headers are added to every download request.
	Headers http.Header
	// Proxy is an optional proxy URL for this download.
	Proxy string
}

type downloader struct {
	clock      syncf.Clock
	client     httpf.Client
	muxer      Muxer
	dir        flu.File
	retries    int
	retryAfter time.Duration
	metrics    me3x.Registry
	hashes     HashStorage
	ctx        context.Context
	cancel     context.CancelFunc
	work       syncf.WaitGroup
	queue      syncf.Locker
	mu         sync.Mutex
	refs       map[string]*Ref
}

func (d *downloader) String() string {
	return ServiceID
}

func (d *downloader) ScheduleImage(rawURL string, options Options) *Ref {
	return d.schedule("image", rawURL, "", options)
}

func (d *downloader) ScheduleVideo(rawURL string, options Options) *Ref {
	return d.schedule("video", rawURL, "", options)
}

func (d *downloader) ScheduleMux(videoURL, audioURL string, options Options) *Ref {
	return d.schedule("mux", videoURL, audioURL, options)
}

func (d *downloader) schedule(kind, rawURL, audioURL string, options Options) *Ref {
	key := kind + ":" + rawURL
	if audioURL != "" {
		key += "|" + audioURL
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ref, ok := d.refs[key]; ok {
		return ref
	}

	file := d.dir.Join(fmt.Sprintf("%x%s", md5.Sum([]byte(key)), fileExtension(kind, rawURL)))
	var ref *Ref
	if ok, _ := file.Exists(); ok {
		ref = Resolved(file)
	} else {
		ref = &Ref{
			fetch: d.fetcher(kind, rawURL, audioURL, file, options),
			spawn: d.spawn,
		}

		ref.Start()
	}

	d.refs[key] = ref
	return ref
}

func (d *downloader) spawn(body func(ctx context.Context)) {
	if _, err := syncf.GoWith(d.ctx, d.work.Spawn, body); err != nil {
		// downloader is shutting down, complete the fetch with the context error
		body(d.ctx)
	}
}

func (d *downloader) fetcher(kind, rawURL, audioURL string, file flu.File, options Options) syncf.Resolve[flu.File] {
	return func(ctx context.Context) (flu.File, error) {
		ctx, cancel := d.queue.Lock(ctx)
		if err := ctx.Err(); err != nil {
			return "", err
		}

		defer cancel()

		var (
			mimeType string
			err      error
		)

		if kind == "mux" {
			err = d.muxStreams(ctx, rawURL, audioURL, file, options)
		} else {
			mimeType, err = d.download(ctx, rawURL, file, options)
		}

		labels := make(me3x.Labels, 0, 1).Add("kind", kind)
		if err != nil {
			d.metrics.Counter("failed", labels).Inc()
			logf.Get(d).Warnf(ctx, "fetch %s [%s]: %s", kind, rawURL, err)
			return "", err
		}

		d.metrics.Counter("ok", labels).Inc()
		logf.Get(d).Debugf(ctx, "fetch %s [%s] => %s", kind, rawURL, file)
		if kind == "image" {
			d.checkDuplicate(ctx, rawURL, file, mimeType)
		}

		return file, nil
	}
}

func (d *downloader) download(ctx context.Context, rawURL string, file flu.File, options Options) (string, error) {
	client, err := d.httpClient(options)
	if err != nil {
		return "", err
	}

	tmp := d.dir.Join(uuid.Must(uuid.NewV4()).String())
	defer func() { _ = tmp.Remove() }()

	var mimeType string
	for attempt := 0; ; attempt++ {
		mimeType, err = d.exchange(ctx, client, rawURL, tmp, options.Headers)
		if err == nil {
			break
		}

		if attempt >= d.retries || syncf.IsContextRelated(err) {
			return "", err
		}

		timeout := time.Duration(attempt+1) * d.retryAfter
		logf.Get(d).Debugf(ctx, "download [%s] attempt %d: %s, retry in %s", rawURL, attempt, err, timeout)
		if err := flu.Sleep(ctx, timeout); err != nil {
			return "", err
		}
	}

	if err := file.CreateParent(); err != nil {
		return "", errors.Wrap(err, "create parent")
	}

	if err := os.Rename(tmp.String(), file.String()); err != nil {
		return "", errors.Wrap(err, "move blob")
	}

	return mimeType, nil
}

func (d *downloader) exchange(ctx context.Context, client httpf.Client, rawURL string, out flu.File, headers http.Header) (string, error) {
	req := httpf.GET(rawURL)
	for key, values := range headers {
		for _, value := range values {
			req.Header(key, value)
		}
	}

	var mimeType string
	return mimeType, req.
		Exchange(ctx, client).
		CheckStatus(http.StatusOK).
		HandleFunc(func(resp *http.Response) error {
			mimeType = resp.Header.Get("Content-Type")
			return nil
		}).
		CopyBody(out).
		Error()
}

func (d *downloader) muxStreams(ctx context.Context, videoURL, audioURL string, file flu.File, options Options) error {
	video := d.dir.Join(uuid.Must(uuid.NewV4()).String() + ".mp4")
	audio := d.dir.Join(uuid.Must(uuid.NewV4()).String() + ".m4a")
	defer func() {
		_ = video.Remove()
		_ = audio.Remove()
	}()

	if _, err := d.download(ctx, videoURL, video, options); err != nil {
		return errors.Wrap(err, "download video stream")
	}

	if _, err := d.download(ctx, audioURL, audio, options); err != nil {
		return errors.Wrap(err, "download audio stream")
	}

	if err := file.CreateParent(); err != nil {
		return errors.Wrap(err, "create parent")
	}

	return d.muxer.Mux(video, audio, file)
}

func (d *downloader) checkDuplicate(ctx context.Context, rawURL string, file flu.File, mimeType string) {
	if d.hashes == nil {
		return
	}

	now := d.clock.Now()
	hash := &Hash{URL: rawURL, FirstSeen: now, LastSeen: now}
	if err := hashBlob(file, mimeType, hash); err != nil {
		logf.Get(d).Warnf(ctx, "hash [%s]: %s", rawURL, err)
		return
	}

	ok, err := d.hashes.Check(ctx, hash)
	if err != nil {
		logf.Get(d).Warnf(ctx, "check hash [%s]: %s", rawURL, err)
		return
	}

	if !ok {
		d.metrics.Counter("duplicate", make(me3x.Labels, 0, 1).Add("type", hash.Type)).Inc()
		logf.Get(d).Infof(ctx, "duplicate blob [%s] first seen at %s", rawURL, hash.FirstSeen)
	}
}

func (d *downloader) httpClient(options Options) (httpf.Client, error) {
	if options.Proxy == "" {
		return d.client, nil
	}

	proxy, err := url.Parse(options.Proxy)
	if err != nil {
		return nil, errors.Wrap(err, "parse proxy url")
	}

	transport := httpf.NewDefaultTransport()
	transport.Proxy = http.ProxyURL(proxy)
	return &http.Client{Transport: transport}, nil
}

func (d *downloader) Close() error {
	d.cancel()
	d.work.Wait()
	return nil
}

func fileExtension(kind, rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}

	if kind == "image" {
		return ".jpg"
	}

	return ".mp4"
}
