package logx

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Filter decides whether a sink accepts a record that already passed the
// sink's threshold. The set of implementations is closed: ExcludeLevel,
// ContentMatch and AllOf.
type Filter interface {
	Accept(rec Record) bool
	String() string
	filter()
}

// ExcludeLevel rejects records of exactly one level.
type ExcludeLevel struct {
	Level Level
}

func (f ExcludeLevel) Accept(rec Record) bool { return rec.Level != f.Level }
func (f ExcludeLevel) String() string {
	return "exclude_level:" + strings.ToLower(LevelName(f.Level))
}
func (ExcludeLevel) filter() {}

// ContentMatch accepts records whose message contains Substr, ignoring case.
// An empty Substr accepts everything.
type ContentMatch struct {
	Substr string
}

func (f ContentMatch) Accept(rec Record) bool {
	return strings.Contains(strings.ToLower(rec.Message), strings.ToLower(f.Substr))
}
func (f ContentMatch) String() string { return "contains:" + f.Substr }
func (ContentMatch) filter()          {}

// AllOf accepts a record only if every non-nil member accepts it.
type AllOf []Filter

func (a AllOf) Accept(rec Record) bool {
	for _, f := range a {
		if f != nil && !f.Accept(rec) {
			return false
		}
	}
	return true
}

func (a AllOf) String() string {
	parts := make([]string, 0, len(a))
	for _, f := range a {
		if f != nil {
			parts = append(parts, f.String())
		}
	}
	return strings.Join(parts, ",")
}
func (AllOf) filter() {}

// Combine returns nil when no filter is given, the filter itself for one,
// and AllOf otherwise.
func Combine(fs ...Filter) Filter {
	out := make(AllOf, 0, len(fs))
	for _, f := range fs {
		if f != nil {
			out = append(out, f)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// ParseFilter parses the config form of a filter:
//
//	""                       no filter
//	"exclude_level:debug"    ExcludeLevel
//	"contains:<substring>"   ContentMatch (substring kept verbatim)
func ParseFilter(raw string) (Filter, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("filter %q: expected <kind>:<arg>", raw)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "exclude_level":
		lvl := ParseLevel(arg, zerolog.NoLevel)
		if lvl == zerolog.NoLevel {
			return nil, fmt.Errorf("filter %q: unknown level %q", raw, arg)
		}
		return ExcludeLevel{Level: lvl}, nil
	case "contains":
		if arg == "" {
			return nil, fmt.Errorf("filter %q: empty substring", raw)
		}
		return ContentMatch{Substr: arg}, nil
	default:
		return nil, fmt.Errorf("filter %q: unknown kind %q", raw, kind)
	}
}
