package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Clock lets tests drive rotation boundaries.
type Clock = rotatelogs.Clock

// RotatingOutput writes to <path>.<period> files and keeps <path> as a
// symlink to the current one. A new file starts on every period boundary;
// at most Backups older files are kept.
type RotatingOutput struct {
	mu sync.Mutex
	rl *rotatelogs.RotateLogs
}

type RotateConfig struct {
	Path    string
	Every   time.Duration // default 24h
	Backups int           // older files kept besides the current one
	Clock   Clock         // default local time
}

func NewRotatingOutput(cfg RotateConfig) (*RotatingOutput, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("rotating log: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("rotating log %q: %w", path, err)
		}
	}
	every := cfg.Every
	if every <= 0 {
		every = 24 * time.Hour
	}
	var clock Clock = rotatelogs.Local
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(every),
		rotatelogs.WithClock(clock),
	}
	if cfg.Backups > 0 {
		// The count includes the file currently written to.
		opts = append(opts, rotatelogs.WithRotationCount(uint(cfg.Backups)+1))
	}

	rl, err := rotatelogs.New(path+periodSuffix(every), opts...)
	if err != nil {
		return nil, fmt.Errorf("rotating log %q: %w", path, err)
	}
	return &RotatingOutput{rl: rl}, nil
}

// periodSuffix picks a strftime suffix fine enough that two periods never
// share a file name.
func periodSuffix(every time.Duration) string {
	switch {
	case every >= 24*time.Hour:
		return ".%Y%m%d"
	case every >= time.Hour:
		return ".%Y%m%d%H"
	default:
		return ".%Y%m%d%H%M"
	}
}

func (o *RotatingOutput) WriteRecord(_ Record, line []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.rl.Write(line)
	return err
}

// CurrentFile returns the dated file currently written to.
func (o *RotatingOutput) CurrentFile() string { return o.rl.CurrentFileName() }

func (o *RotatingOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rl.Close()
}
