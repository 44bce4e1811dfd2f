package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpquant/mind-persona/internal/pricing"
)

func TestDefaultFallbacks(t *testing.T) {
	p := Default()

	tests := []struct {
		model  string
		want   string
		wantOK bool
	}{
		{"gemini-2.5-pro", "gemini-2.5-flash", true},
		{"gemini-2.5-flash", "gemini-flash-latest", true},
		{"gemini-flash-latest", "", false},
		{"gemini-2.5-flash-image", "", false},
		{"unknown-model", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := p.Fallback(tt.model)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChain(t *testing.T) {
	p := Default()
	assert.Equal(t,
		[]string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-flash-latest"},
		p.Chain("gemini-2.5-pro"))

	cyclic := FromFile(File{Fallbacks: map[string]string{"a": "b", "b": "a"}})
	assert.Equal(t, []string{"a", "b"}, cyclic.Chain("a"))
}

func TestParse(t *testing.T) {
	data := []byte(`
fallbacks:
  gemini-2.5-pro: none
  custom-model: gemini-2.5-flash
prices:
  custom-model: {input: 1, output: 2}
`)
	p, err := Parse(data)
	require.NoError(t, err)

	_, ok := p.Fallback("gemini-2.5-pro")
	assert.False(t, ok, "override should remove the pro fallback")

	next, ok := p.Fallback("custom-model")
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", next)

	assert.InDelta(t, 3.0, p.Cost("custom-model", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, pricing.Calculate("gemini-2.5-flash", 1000, 1000),
		p.Cost("gemini-2.5-flash", 1000, 1000), 1e-12)
}

func TestParse_JSON(t *testing.T) {
	p, err := Parse([]byte(`{"fallbacks": {"x": "y"}}`))
	require.NoError(t, err)
	next, ok := p.Fallback("x")
	assert.True(t, ok)
	assert.Equal(t, "y", next)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("fallbacks: [unclosed"))
	assert.Error(t, err)

	_, err = Parse([]byte("prices:\n  m: {input: -1, output: 1}\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Fallbacks(), p.Fallbacks())
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallbacks: {a: b}\n"), 0o600))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	next, ok := w.Fallback("a")
	require.True(t, ok)
	assert.Equal(t, "b", next)

	require.NoError(t, os.WriteFile(path, []byte("fallbacks: {a: c}\n"), 0o600))

	require.Eventually(t, func() bool {
		next, _ := w.Fallback("a")
		return next == "c"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallbacks: {a: b}\n"), 0o600))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("fallbacks: [broken"), 0o600))
	assert.Error(t, w.Reload())

	next, ok := w.Fallback("a")
	assert.True(t, ok)
	assert.Equal(t, "b", next)
}

func TestWatcher_NoPath(t *testing.T) {
	w, err := NewWatcher("")
	require.NoError(t, err)
	defer w.Close()

	next, ok := w.Fallback("gemini-2.5-pro")
	assert.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", next)

	select {
	case ev := <-w.Events():
		assert.Equal(t, EventLoaded, ev.Type)
	default:
		t.Fatal("expected a loaded event")
	}
}

func TestStatic(t *testing.T) {
	w := Static(FromFile(File{Fallbacks: map[string]string{"gemini-2.5-pro": ""}}))
	defer w.Close()
	_, ok := w.Fallback("gemini-2.5-pro")
	assert.False(t, ok)
	assert.NoError(t, w.Close())
}
