package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mythweaver/internal/collection"
	"mythweaver/internal/model"
	"mythweaver/internal/service"
)

func noColour(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, storageDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mythweaver.yaml")
	content := "storage:\n  driver: file\n  path: " + storageDir + "\n" +
		"narration:\n  output: silent\n" +
		"log:\n  file: \"\"\n  level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestOptionsCommand(t *testing.T) {
	noColour(t)
	out, err := run(t, "options")
	require.NoError(t, err)
	assert.Contains(t, out, "Mythologies\n  Greek, Norse, Egyptian")
	assert.Contains(t, out, "Lengths\n  short, medium, long\n")
}

func TestSavedCommands(t *testing.T) {
	noColour(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	saved := collection.New(collection.NewFileStore(dir, "savedStories"))
	_, err := saved.Save(context.Background(), &model.StoryResult{
		Title:       "Inanna's Descent",
		Story:       "She passed seven gates.",
		StoryPrompt: &model.GenerationRequest{Mythology: "Mesopotamian"},
	})
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "saved", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "  0  Inanna's Descent  Mesopotamian")

	out, err = run(t, "--config", cfg, "saved", "show", "0", "--markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# Inanna's Descent\n")
	assert.Contains(t, out, "- Mythology: Mesopotamian\n")

	_, err = run(t, "--config", cfg, "saved", "show", "3")
	assert.ErrorIs(t, err, collection.ErrIndexOutOfRange)

	_, err = run(t, "--config", cfg, "narrate", "0")
	assert.EqualError(t, err, "narration.output must be speaker to play audio")

	out, err = run(t, "--config", cfg, "saved", "delete", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted story 0.")

	out, err = run(t, "--config", cfg, "saved", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved stories yet.")
}

func TestParseIndex(t *testing.T) {
	i, err := parseIndex("2")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	for _, bad := range []string{"-1", "two", ""} {
		_, err := parseIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestWaitNarration(t *testing.T) {
	done := make(chan struct{})
	close(done)
	assert.NoError(t, waitNarration(context.Background(), done, func() error { return errors.New("should not stop") }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := false
	err := waitNarration(ctx, make(chan struct{}), func() error { stopped = true; return nil })
	assert.NoError(t, err)
	assert.True(t, stopped)
}

func TestPrintBundle(t *testing.T) {
	noColour(t)
	savedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	story := &model.StoryResult{Title: "Kintu", Story: "Kintu passed the trials of Ggulu."}
	res := &service.BundleResult{
		Story:    story,
		Saved:    &model.StoryResult{Title: "Kintu", SavedAt: &savedAt},
		ImageErr: errors.New("Stability quota exceeded, please try again later"),
	}

	outFile := filepath.Join(t.TempDir(), "kintu.md")
	var stdout, stderr bytes.Buffer
	require.NoError(t, printBundle(&stdout, &stderr, res, generateFlags{out: outFile, width: 80}))

	assert.Contains(t, stdout.String(), "Kintu\n")
	assert.Contains(t, stderr.String(), "illustration failed: Stability quota exceeded")
	assert.Contains(t, stderr.String(), "Saved at ")

	md, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "# Kintu\n\n---\n\nKintu passed the trials of Ggulu.\n", string(md))
}
