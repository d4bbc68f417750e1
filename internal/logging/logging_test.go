package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	Shutdown()

	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	path := filepath.Join(t.TempDir(), "closai.log")
	Init(Config{Format: "json", Level: "debug", Component: "closai", FilePath: path})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Msg("component check")
	Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"closai"`)
	assert.Contains(t, string(data), "component check")
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "console"})

	mu.RLock()
	defer mu.RUnlock()
	_, ok := baseWriter.(zerolog.ConsoleWriter)
	assert.True(t, ok, "expected console writer, got %#v", baseWriter)
}

func TestInitAutoFormatFollowsTerminalDetection(t *testing.T) {
	t.Cleanup(resetLoggingState)
	orig := isTerminalFn
	t.Cleanup(func() { isTerminalFn = orig })

	isTerminalFn = func(int) bool { return true }
	Init(Config{Format: "auto"})
	mu.RLock()
	_, console := baseWriter.(zerolog.ConsoleWriter)
	mu.RUnlock()
	assert.True(t, console)

	isTerminalFn = func(int) bool { return false }
	Init(Config{Format: "auto"})
	mu.RLock()
	assert.Equal(t, os.Stderr, baseWriter)
	mu.RUnlock()
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
	assert.True(t, ValidLevel("trace"))
	assert.False(t, ValidLevel("bogus"))
	assert.True(t, ValidFormat("Console"))
	assert.False(t, ValidFormat("xml"))
}

func TestInitWritesOwnerOnlyLogFile(t *testing.T) {
	t.Cleanup(resetLoggingState)

	path := filepath.Join(t.TempDir(), "logs", "closai.log")
	Init(Config{Format: "json", Level: "info", FilePath: path})
	log.Info().Str("plan", "monthly").Msg("Purchase verified")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"plan":"monthly"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, logFilePerm, info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, logDirPerm, dirInfo.Mode().Perm())
}

func TestFileWriterRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.log")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	link := filepath.Join(dir, "closai.log")
	require.NoError(t, os.Symlink(target, link))

	_, err := newFileWriter(Config{FilePath: link})
	assert.Error(t, err)
}

func TestFileWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closai.log")
	w, err := newFileWriter(Config{FilePath: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestSetLevelChangesRunningLogger(t *testing.T) {
	t.Cleanup(resetLoggingState)
	Init(Config{Format: "json", Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	SetLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
