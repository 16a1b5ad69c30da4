// Package instagram parses instagram post, reel and share links.
package instagram

import (
	"context"
	"net/http"
	"time"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/httpf"
	"github.com/pkg/errors"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/parsers"
	"github.com/jfk9w/sharebot/internal/post"
	"github.com/jfk9w/sharebot/internal/storage"
)

var Platform = post.Platform{Name: "instagram", DisplayName: "Instagram"}

var Host = "https://www.instagram.com"

var baseHeaders = http.Header{
	"User-Agent": {"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"},
	"Origin":     {"https://www.instagram.com"},
	"Referer":    {"https://www.instagram.com/"},
}

type Config struct {
	Enabled bool   `yaml:"enabled,omitempty" doc:"Whether instagram links should be parsed." default:"true"`
	Cookie  string `yaml:"cookie,omitempty" doc:"Cookie seed for instagram requests. Takes priority over the stored cookie."`
	Proxy   string `yaml:"proxy,omitempty" doc:"Optional proxy URL for instagram media downloads."`
}

type Context interface {
	media.Context
	storage.Context
	InstagramConfig() Config
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

	config := app.Config().InstagramConfig()
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
		proxy: config.Proxy,
	}

	return p.session.Cookies.Load(ctx, config.Cookie)
}

type parser struct {
	session *parsers.Session
	media   parsers.Media
	proxy   string
}

func (p *parser) Platform() post.Platform {
	return Platform
}

func (p *parser) Bindings() []parsers.Binding {
	return []parsers.Binding{
		parsers.Bind("instagram.com", `https?://(?:www\.)?instagram\.com/(?P<kind>p|reel|reels|tv|share)/(?P<code>[A-Za-z0-9_\-]+)\S*`),
		parsers.Bind("instagr.am", `https?://(?:www\.)?instagr\.am/(?P<kind>p|reel|reels|tv)/(?P<code>[A-Za-z0-9_\-]+)\S*`),
	}
}

func (p *parser) Parse(ctx context.Context, match parsers.Match) (*post.ParseResult, error) {
	if match.Named("kind") == "share" {
		return p.session.ResolveRedirect(ctx, match.Text, baseHeaders)
	}

	code := match.Named("code")
	var payload Payload
	if err := p.session.Retry(ctx, func(ctx context.Context) error {
		return p.session.Request(httpf.GET(Host+"/p/"+code+"/"), baseHeaders).
			Query("__a", "1").
			Query("__d", "dis").
			Exchange(ctx, p.session).
			CheckStatus(http.StatusOK).
			HandleFunc(func(resp *http.Response) error {
				p.session.UpdateCookies(ctx, resp)
				return nil
			}).
			DecodeBody(flu.JSON(&payload)).
			Error()
	}); err != nil {
		return nil, err
	}

	node := payload.Graphql.ShortcodeMedia
	if node.ID == "" {
		return nil, errors.Wrap(parsers.ErrMalformedPayload, "no shortcode media")
	}

	entries := node.Children()
	if entries == nil {
		entries = []Node{node}
	}

	contents := make([]post.Content, 0, len(entries))
	for i := range entries {
		if content, ok := p.content(&entries[i]); ok {
			contents = append(contents, content)
		}
	}

	if len(contents) == 0 {
		return nil, parsers.ErrNoUsableMedia
	}

	return &post.ParseResult{
		Platform:  Platform,
		Author:    p.session.Author(p.media, node.Owner.Username, node.Owner.ProfilePicURL, baseHeaders),
		Title:     node.Caption(),
		Timestamp: node.TakenAtTimestamp,
		URL:       Host + "/p/" + code + "/",
		Contents:  contents,
	}, nil
}

// content maps a single carousel entry. A video entry whose primary
// stream has no audio track is merged with the separate audio stream.
func (p *parser) content(node *Node) (post.Content, bool) {
	options := media.Options{Headers: baseHeaders, Proxy: p.proxy}
	if node.IsVideo && node.VideoURL != "" {
		var ref *media.Ref
		if node.AudioURL != "" && !node.HasAudio {
			ref = p.media.ScheduleMux(node.VideoURL, node.AudioURL, options)
		} else {
			ref = p.media.ScheduleVideo(node.VideoURL, options)
		}

		video := post.VideoContent{
			Media:    ref,
			Duration: node.VideoDuration,
		}

		if node.DisplayURL != "" {
			video.Cover = p.media.ScheduleImage(node.DisplayURL, options)
		}

		return video, true
	}

	if node.DisplayURL != "" {
		return post.ImageContent{Media: p.media.ScheduleImage(node.DisplayURL, options)}, true
	}

	return nil, false
}
