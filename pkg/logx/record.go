package logx

import (
	"bytes"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"
)

// KV is one structured field of a Record, rendered as text.
type KV struct {
	Key   string
	Value string
}

// Record is a decoded log line. Sinks and filters only read it.
type Record struct {
	Level   Level
	Message string
	Source  string
	Time    time.Time
	Fields  []KV

	// Raw is the zerolog JSON line as written (trailing newline included).
	Raw []byte
}

// Field returns the value of the named structured field.
func (r Record) Field(key string) (string, bool) {
	for _, kv := range r.Fields {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

var errEmptyRecord = errors.New("empty log line")

// decodeRecord turns one zerolog JSON line into a Record. hint is the level
// reported by zerolog's LevelWriter; the line's own "level" field wins.
func decodeRecord(pp *fastjson.ParserPool, hint zerolog.Level, p []byte) (Record, error) {
	line := bytes.TrimSpace(p)
	if len(line) == 0 {
		return Record{}, errEmptyRecord
	}

	parser := pp.Get()
	defer pp.Put(parser)

	v, err := parser.ParseBytes(line)
	if err != nil {
		return Record{}, err
	}
	obj, err := v.Object()
	if err != nil {
		return Record{}, err
	}

	rec := Record{Level: hint, Raw: append([]byte(nil), p...)}
	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		s := valueText(val)
		switch k {
		case zerolog.LevelFieldName:
			if lvl, err := zerolog.ParseLevel(s); err == nil && lvl != zerolog.NoLevel {
				rec.Level = lvl
			}
		case zerolog.MessageFieldName:
			rec.Message = s
		case zerolog.TimestampFieldName:
			rec.Time = parseTime(s)
		case SourceFieldName:
			rec.Source = s
		default:
			rec.Fields = append(rec.Fields, KV{Key: k, Value: s})
		}
	})
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return rec, nil
}

func valueText(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		b, _ := v.StringBytes()
		return string(b)
	}
	return v.String()
}

func parseTime(s string) time.Time {
	for _, layout := range []string{consoleTimeFormat, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
