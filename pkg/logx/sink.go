package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ---- Formatters ----

// Formatter renders a record into the bytes handed to an Output.
type Formatter interface {
	Format(rec Record) []byte
}

const (
	// DefaultLayout matches "LEVEL => message => timestamp".
	DefaultLayout = "{level} => {message} => {time}"
	// SourceLayout is the general application log layout.
	SourceLayout = "{source} => {level} => {message}"
	// FieldsLayout is DefaultLayout with structured fields appended to the message.
	FieldsLayout = "{level} => {message}{fields} => {time}"

	DefaultTimeFormat = "2006-01-02 15:04:05"
)

// TextFormatter renders a layout with the placeholders {level}, {message},
// {fields}, {source} and {time}. {fields} expands to " key=value" pairs.
type TextFormatter struct {
	Layout     string
	TimeFormat string
}

func (f TextFormatter) Format(rec Record) []byte {
	layout := f.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	tf := f.TimeFormat
	if tf == "" {
		tf = DefaultTimeFormat
	}
	source := rec.Source
	if source == "" {
		source = "root"
	}
	r := strings.NewReplacer(
		"{level}", LevelName(rec.Level),
		"{message}", rec.Message,
		"{fields}", renderFields(rec.Fields),
		"{source}", source,
		"{time}", rec.Time.Local().Format(tf),
	)
	return []byte(r.Replace(layout) + "\n")
}

func renderFields(kvs []KV) string {
	var b strings.Builder
	for _, kv := range kvs {
		if kv.Key == "caller" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(kv.Key)
		b.WriteString("=")
		b.WriteString(kv.Value)
	}
	return b.String()
}

// JSONFormatter passes the zerolog line through unchanged.
type JSONFormatter struct{}

func (JSONFormatter) Format(rec Record) []byte { return rec.Raw }

// ---- Outputs ----

// Output is where a sink puts formatted bytes.
type Output interface {
	WriteRecord(rec Record, line []byte) error
	Close() error
}

// WriterOutput serializes writes to an io.Writer. Close only closes files
// opened by openAppend; shared writers such as stdout stay open.
type WriterOutput struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

func NewWriterOutput(w io.Writer) *WriterOutput { return &WriterOutput{w: w} }

func openAppend(path string) (*WriterOutput, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty log file path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &WriterOutput{w: f, closer: f}, nil
}

func (o *WriterOutput) WriteRecord(_ Record, line []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(line)
	return err
}

func (o *WriterOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	return err
}

// ---- Sink ----

// Sink is one independent output destination.
type Sink struct {
	Name      string
	Threshold Level
	Filter    Filter // nil: threshold only
	Formatter Formatter
	Output    Output
}

// Accepts reports whether rec should be emitted by this sink.
func (s *Sink) Accepts(rec Record) bool {
	if rec.Level < s.Threshold {
		return false
	}
	return s.Filter == nil || s.Filter.Accept(rec)
}

// Emit formats rec and writes it to the sink's output.
func (s *Sink) Emit(rec Record) error {
	f := s.Formatter
	if f == nil {
		f = TextFormatter{}
	}
	return s.Output.WriteRecord(rec, f.Format(rec))
}
