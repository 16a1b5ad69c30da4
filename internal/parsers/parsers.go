// Package parsers contains the share link dispatch machinery: keyword
// bindings, the parser registry and shared per-platform client helpers.
package parsers

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/post"
)

var (
	// ErrUnresolvedRedirect means a short link did not produce a usable location.
	ErrUnresolvedRedirect = errors.New("unresolved redirect")
	// ErrUpstreamUnavailable means all equivalent endpoints failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedPayload means the platform response misses the expected structure.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNoUsableMedia means the payload was read, but yielded no supported media.
	ErrNoUsableMedia = errors.New("no usable media")
)

// Binding connects a keyword with the URL pattern it stands for.
// The keyword is a plain substring used as a cheap pre-filter
// before the pattern is applied.
type Binding struct {
	Keyword string
	Pattern *regexp.Regexp
}

func Bind(keyword, pattern string) Binding {
	return Binding{
		Keyword: keyword,
		Pattern: regexp.MustCompile(pattern),
	}
}

// Match is a successful binding hit within a text.
type Match struct {
	// Keyword is the binding keyword which produced this match.
	Keyword string
	// Text is the full matched URL fragment.
	Text string

	groups []string
	names  []string
	parser Parser
}

// Group returns a capture group value by index (0 is the whole match).
func (m Match) Group(index int) string {
	if index < 0 || index >= len(m.groups) {
		return ""
	}

	return m.groups[index]
}

// Named returns a capture group value by name.
func (m Match) Named(name string) string {
	for i, groupName := range m.names {
		if groupName == name {
			return m.Group(i)
		}
	}

	return ""
}

// Parser handles share links of a single platform.
type Parser interface {

	// Platform identifies the platform served by this parser.
	Platform() post.Platform

	// Bindings returns the static keyword bindings of this parser.
	Bindings() []Binding

	// Parse converts a matched link into a structured result.
	Parse(ctx context.Context, match Match) (*post.ParseResult, error)
}

// Dispatcher matches text against registered bindings and routes
// matches to their parsers.
type Dispatcher interface {
	Match(text string) (Match, bool)
	Dispatch(ctx context.Context, match Match) (*post.ParseResult, error)
}

// Media schedules media downloads for parsed contents.
type Media interface {
	ScheduleImage(rawURL string, options media.Options) *media.Ref
	ScheduleVideo(rawURL string, options media.Options) *media.Ref
	ScheduleMux(videoURL, audioURL string, options media.Options) *media.Ref
}
