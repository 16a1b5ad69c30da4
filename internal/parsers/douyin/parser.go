// Package douyin parses douyin share links: short links, canonical
// video and note pages, and slideshow posts.
package douyin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/parsers"
	"github.com/jfk9w/sharebot/internal/post"
	"github.com/jfk9w/sharebot/internal/storage"
)

var Platform = post.Platform{Name: "douyin", DisplayName: "抖音"}

var (
	MobileHost     = "https://m.douyin.com"
	ShareHost      = "https://www.iesdouyin.com"
	SlidesEndpoint = "https://www.iesdouyin.com/web/api/v2/aweme/slidesinfo/"
)

var (
	pageHeaders = http.Header{
		"User-Agent": {"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"},
	}

	apiHeaders = http.Header{
		"User-Agent": {"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36"},
	}
)

type Config struct {
	Enabled bool   `yaml:"enabled,omitempty" doc:"Whether douyin links should be parsed." default:"true"`
	Cookie  string `yaml:"cookie,omitempty" doc:"Cookie seed for douyin requests. Takes priority over the stored cookie."`
}

type Context interface {
	media.Context
	storage.Context
	DouyinConfig() Config
}

type Parser[C Context] struct {
	*parser
}

func (p *Parser[C]) String() string {
	return "parser." + Platform.Name
}

func (p *Parser[C]) Include(ctx context.Context, app apfel.MixinApp[C]) error {
	if p.parser != nil {
		return nil
	}

	config := app.Config().DouyinConfig()
	if !config.Enabled {
		return apfel.ErrDisabled
	}

	var sql storage.SQL[C]
	if err := app.Use(ctx, &sql, false); err != nil {
		return err
	}

	var downloader media.Downloader[C]
	if err := app.Use(ctx, &downloader, false); err != nil {
		return err
	}

	var registry parsers.Registry[C]
	if err := app.Use(ctx, &registry, false); err != nil {
		return err
	}

	p.parser = &parser{
		session: &parsers.Session{
			Platform:   Platform,
			Client:     parsers.NewNoRedirectClient(),
			Dispatcher: &registry,
			Cookies:    parsers.NewCookieState(Platform.Name, &sql),
			Retries:    2,
			RetryAfter: time.Second,
		},
		media: &downloader,
	}

	return p.session.Cookies.Load(ctx, config.Cookie)
}

type parser struct {
	session *parsers.Session
	media   parsers.Media
}

func (p *parser) Platform() post.Platform {
	return Platform
}

func (p *parser) Bindings() []parsers.Binding {
	return []parsers.Binding{
		parsers.Bind("v.douyin", `v\.douyin\.com/[a-zA-Z0-9_\-]+`),
		parsers.Bind("jx.douyin", `jx\.douyin\.com/[a-zA-Z0-9_\-]+`),
		parsers.Bind("douyin", `douyin\.com/(?P<type>video|note)/(?P<id>\d+)`),
		parsers.Bind("iesdouyin", `iesdouyin\.com/share/(?P<type>slides|video|note)/(?P<id>\d+)`),
		parsers.Bind("m.douyin", `m\.douyin\.com/share/(?P<type>slides|video|note)/(?P<id>\d+)`),
		parsers.Bind("jingxuan.douyin", `jingxuan\.douyin\.com/m/(?P<type>slides|video|note)/(?P<id>\d+)`),
	}
}

func (p *parser) Parse(ctx context.Context, match parsers.Match) (*post.ParseResult, error) {
	switch match.Keyword {
	case "v.douyin", "jx.douyin":
		return p.session.ResolveRedirect(ctx, "https://"+match.Text, pageHeaders)
	}

	itemType, itemID := match.Named("type"), match.Named("id")
	if itemType == "slides" {
		return p.parseSlides(ctx, itemID)
	}

	return p.session.Mirrors(ctx, []string{
		MobileHost + "/share/" + itemType + "/" + itemID,
		ShareHost + "/share/" + itemType + "/" + itemID,
	}, p.parseVideo)
}

func (p *parser) parseVideo(ctx context.Context, rawURL string) (*post.ParseResult, error) {
	var router RouterData
	if err := p.session.Request(httpf.GET(rawURL), pageHeaders).
		Exchange(ctx, p.session).
		CheckStatus(http.StatusOK).
		HandleFunc(func(resp *http.Response) error {
			p.session.UpdateCookies(ctx, resp)
			data, err := extractRouterData(resp.Body)
			if err != nil {
				return err
			}

			if err := json.Unmarshal(data, &router); err != nil {
				return errors.Wrapf(parsers.ErrMalformedPayload, "decode router data: %s", err)
			}

			return nil
		}).
		Error(); err != nil {
		return nil, err
	}

	item, ok := router.Item()
	if !ok {
		return nil, errors.Wrap(parsers.ErrMalformedPayload, "no item in router data")
	}

	contents, err := p.session.MapMedia(p.media,
		item.ImageURLs(), item.VideoURL(), item.CoverURL(), item.DurationSeconds(),
		pageHeaders)
	if err != nil {
		return nil, err
	}

	return &post.ParseResult{
		Platform:  Platform,
		Author:    p.session.Author(p.media, item.Author.Nickname, item.Author.AvatarThumb.First(), pageHeaders),
		Title:     item.Desc,
		Timestamp: item.CreateTime,
		URL:       rawURL,
		Contents:  contents,
	}, nil
}

func (p *parser) parseSlides(ctx context.Context, itemID string) (*post.ParseResult, error) {
	var info SlidesInfo
	if err := p.session.Retry(ctx, func(ctx context.Context) error {
		return p.session.Request(httpf.GET(SlidesEndpoint), apiHeaders).
			Query("aweme_ids", "["+itemID+"]").
			Query("request_source", "200").
			Exchange(ctx, p.session).
			CheckStatus(http.StatusOK).
			HandleFunc(func(resp *http.Response) error {
				p.session.UpdateCookies(ctx, resp)
				return nil
			}).
			DecodeBody(flu.JSON(&info)).
			Error()
	}); err != nil {
		return nil, err
	}

	detail, ok := info.First()
	if !ok {
		return nil, errors.Wrap(parsers.ErrMalformedPayload, "no aweme details")
	}

	options := media.Options{Headers: apiHeaders}
	contents := make([]post.Content, 0, len(detail.Images))
	for _, image := range detail.Images {
		if image.Video != nil {
			if videoURL := image.Video.PlayAddr.First(); videoURL != "" {
				contents = append(contents, post.DynamicContent{Media: p.media.ScheduleVideo(videoURL, options)})
				continue
			}
		}

		if imageURL := image.First(); imageURL != "" {
			contents = append(contents, post.ImageContent{Media: p.media.ScheduleImage(imageURL, options)})
		}
	}

	if len(contents) == 0 {
		return nil, parsers.ErrNoUsableMedia
	}

	return &post.ParseResult{
		Platform:  Platform,
		Author:    p.session.Author(p.media, detail.Author.Nickname, detail.Author.AvatarThumb.First(), apiHeaders),
		Title:     detail.Desc,
		Timestamp: detail.CreateTime,
		URL:       ShareHost + "/share/slides/" + itemID,
		Contents:  contents,
	}, nil
}

func extractRouterData(body io.Reader) ([]byte, error) {
	tokenizer := html.NewTokenizer(body)
	var inScript bool
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return nil, err
			}

			return nil, errors.Wrap(parsers.ErrMalformedPayload, "no router data in page")

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inScript = string(name) == "script"

		case html.EndTagToken:
			inScript = false

		case html.TextToken:
			if !inScript {
				continue
			}

			text := strings.TrimSpace(string(tokenizer.Text()))
			if !strings.HasPrefix(text, "window._ROUTER_DATA") {
				continue
			}

			if _, data, ok := strings.Cut(text, "="); ok {
				return []byte(strings.TrimSpace(data)), nil
			}
		}
	}
}
