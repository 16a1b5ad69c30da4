package parsers

import (
	"context"
	"sort"
	"strings"

	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/colf"
	"github.com/jfk9w-go/flu/logf"
	"github.com/jfk9w-go/flu/me3x"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"

	"github.com/jfk9w/sharebot/internal/post"
)

const ServiceID = "parsers.registry"

// Registry collects bindings from all included parsers.
// Any mixin implementing Parser is picked up automatically.
// Bindings are ordered by descending keyword length, so more specific
// keywords win ("jx.douyin" is tried before "douyin"), and the order
// is frozen once all parsers are included.
type Registry[C apfel.PrometheusContext] struct {
	*Index
}

func (r *Registry[C]) String() string {
	return ServiceID
}

func (r *Registry[C]) Include(ctx context.Context, app apfel.MixinApp[C]) error {
	if r.Index != nil {
		return nil
	}

	var metrics apfel.Prometheus[C]
	if err := app.Use(ctx, &metrics, false); err != nil {
		return err
	}

	r.Index = &Index{metrics: metrics.Registry().WithPrefix("parse")}
	return nil
}

func (r *Registry[C]) AfterInclude(ctx context.Context, app apfel.MixinApp[C], mixin apfel.Mixin[C]) error {
	if parser, ok := mixin.(Parser); ok {
		err := r.Register(parser)
		logf.Get(r).Resultf(ctx, logf.Info, logf.Error, "register parser [%s]: %v", mixin, err)
		return err
	}

	return nil
}

type entry struct {
	Binding
	parser Parser
}

// Index is the binding table shared by all parsers.
type Index struct {
	mu       syncf.RWMutex
	entries  []entry
	keywords colf.Set[string]
	metrics  me3x.Registry
}

func (r *Index) String() string {
	return ServiceID
}

func (r *Index) Register(parser Parser) error {
	_, cancel := r.mu.Lock(nil)
	defer cancel()

	for _, binding := range parser.Bindings() {
		if r.keywords[binding.Keyword] {
			return errors.Errorf("duplicate keyword [%s]", binding.Keyword)
		}

		r.keywords.Add(binding.Keyword)
		r.entries = append(r.entries, entry{Binding: binding, parser: parser})
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].Keyword) > len(r.entries[j].Keyword)
	})

	return nil
}

// Match scans the text for the first registered binding hit.
// A miss is a normal negative outcome, not an error.
func (r *Index) Match(text string) (Match, bool) {
	_, cancel := r.mu.RLock(nil)
	defer cancel()

	for _, entry := range r.entries {
		if !strings.Contains(text, entry.Keyword) {
			continue
		}

		groups := entry.Pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}

		return Match{
			Keyword: entry.Keyword,
			Text:    groups[0],
			groups:  groups,
			names:   entry.Pattern.SubexpNames(),
			parser:  entry.parser,
		}, true
	}

	return Match{}, false
}

// Dispatch routes the match to its parser.
func (r *Index) Dispatch(ctx context.Context, match Match) (*post.ParseResult, error) {
	if match.parser == nil {
		return nil, errors.New("empty match")
	}

	result, err := match.parser.Parse(ctx, match)
	logf.Get(r).Resultf(ctx, logf.Debug, logf.Warn, "parse [%s] %s: %v", match.Keyword, match.Text, err)
	if r.metrics != nil {
		labels := make(me3x.Labels, 0, 1).Add("platform", match.parser.Platform().Name)
		if err != nil {
			r.metrics.Counter("failed", labels).Inc()
		} else {
			r.metrics.Counter("ok", labels).Inc()
		}
	}

	return result, err
}

// Parse is a Match + Dispatch shortcut.
// It returns nil without an error when nothing matched.
func (r *Index) Parse(ctx context.Context, text string) (*post.ParseResult, error) {
	match, ok := r.Match(text)
	if !ok {
		return nil, nil
	}

	return r.Dispatch(ctx, match)
}
