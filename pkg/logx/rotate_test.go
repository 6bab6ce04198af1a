package logx

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var datedSuffix = regexp.MustCompile(`\.\d{8}$`)

func datedFiles(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(base))
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		name := e.Name()
		if datedSuffix.MatchString(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func TestRotatingOutputDailyRetention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "important_errors.log")
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)}

	out, err := NewRotatingOutput(RotateConfig{Path: path, Every: 24 * time.Hour, Backups: 2, Clock: clock})
	require.NoError(t, err)
	defer out.Close()

	for day := 0; day < 5; day++ {
		require.NoError(t, out.WriteRecord(Record{}, []byte("line\n")))
		clock.Advance(24 * time.Hour)
	}

	// Pruning runs in the background after each rotation.
	require.Eventually(t, func() bool {
		return len(datedFiles(t, path)) == 3
	}, 3*time.Second, 20*time.Millisecond)

	files := datedFiles(t, path)
	assert.Equal(t, []string{
		"important_errors.log.20240303",
		"important_errors.log.20240304",
		"important_errors.log.20240305",
	}, files)
	assert.Equal(t, filepath.Join(dir, "important_errors.log.20240305"), out.CurrentFile())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(b))
}

func TestRotatingOutputAppendsWithinPeriod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	clock := &fakeClock{now: time.Date(2024, 3, 1, 1, 0, 0, 0, time.Local)}

	out, err := NewRotatingOutput(RotateConfig{Path: path, Backups: 30, Clock: clock})
	require.NoError(t, err)

	require.NoError(t, out.WriteRecord(Record{}, []byte("a\n")))
	clock.Advance(3 * time.Hour)
	require.NoError(t, out.WriteRecord(Record{}, []byte("b\n")))
	require.NoError(t, out.Close())

	assert.Equal(t, []string{"audit.log.20240301"}, datedFiles(t, path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(b))
}

func TestRotatingOutputRollsAtLocalMidnight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "important_errors.log")
	// 23:30 and 00:30 in UTC+9 fall on the same UTC day.
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 30, 0, 0, tokyo)}

	out, err := NewRotatingOutput(RotateConfig{Path: path, Backups: 7, Clock: clock})
	require.NoError(t, err)

	require.NoError(t, out.WriteRecord(Record{}, []byte("before\n")))
	clock.Advance(time.Hour)
	require.NoError(t, out.WriteRecord(Record{}, []byte("after\n")))
	require.NoError(t, out.Close())

	assert.Equal(t, []string{
		"important_errors.log.20240301",
		"important_errors.log.20240302",
	}, datedFiles(t, path))
}

func TestPeriodSuffix(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ".%Y%m%d", periodSuffix(24*time.Hour))
	assert.Equal(t, ".%Y%m%d%H", periodSuffix(time.Hour))
	assert.Equal(t, ".%Y%m%d%H%M", periodSuffix(15*time.Minute))
}
