package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpquant/mind-persona/internal/models"
	"github.com/perpquant/mind-persona/internal/version"
)

// setupEnv points every path at a temp dir and resets flag state left over
// from previous executions of the shared command tree.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("PERSONA_DB_PATH", filepath.Join(dir, "persona.db"))
	t.Setenv("PERSONA_POLICY_PATH", filepath.Join(dir, "policy.yaml"))
	t.Setenv("PERSONA_EXPORT_DIR", filepath.Join(dir, "exports"))
	t.Setenv("PERSONA_LOG_FILE", "")
	t.Setenv("PERSONA_NOTIFY", "false")
	t.Setenv("NATS_URL", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PERSONA_DEFAULT_MODEL", "gemini-2.5-flash")
	t.Setenv("GOVERNOR_INITIAL_BACKOFF", "1ms")

	verbose = false
	simulateFlag = false
	askModel = ""
	askAgent = "Persona"
	askRaw = false
	tailCount = 20
	tailJSON = false
	pruneAge = 0
	recentCount = 10

	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, version.Name))
}

func TestAskRequiresBackend(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key")
}

func TestAskSimulated(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "ask", "--simulate", "--raw", "--agent", "Critic", "first prompt", "second prompt")
	require.NoError(t, err)

	assert.Contains(t, out, "● first prompt (gemini-2.5-flash, 1 attempt)")
	assert.Contains(t, out, "● second prompt (gemini-2.5-flash, 1 attempt)")
	assert.Contains(t, out, "[gemini-2.5-flash]")
	assert.Less(t, strings.Index(out, "first prompt"), strings.Index(out, "second prompt"))
}

func TestAuditCommands(t *testing.T) {
	dir := setupEnv(t)

	_, err := execute(t, "ask", "--simulate", "--raw", "audit me")
	require.NoError(t, err)

	out, err := execute(t, "audit", "tail")
	require.NoError(t, err)
	assert.Contains(t, out, "API_CALL")
	assert.Contains(t, out, "AGENT_ACTION")

	out, err = execute(t, "audit", "export")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "exports"), filepath.Dir(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = execute(t, "audit", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")

	out, err = execute(t, "audit", "tail")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestStatsCommand(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "ask", "--simulate", "--raw", "count me")
	require.NoError(t, err)

	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "gemini-2.5-flash")
	assert.Contains(t, out, "Persona")
	assert.Contains(t, out, "╭", "tables are drawn with rounded borders")
	assert.Contains(t, out, "│ Success")

	// Archive timestamps have millisecond resolution.
	time.Sleep(5 * time.Millisecond)
	out, err = execute(t, "stats", "--prune", "1ns", "--recent", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 calls")
}

func TestModelTable(t *testing.T) {
	stats := []models.ModelStats{
		{Model: "gemini-2.5-pro", Usage: models.Usage{Calls: 3, Failures: 1, PromptTokens: 1000, CandidateTokens: 500, EstimatedCost: 0.0125}, AvgDurationMs: 812},
		{Model: "gemini-2.5-flash", Usage: models.Usage{Calls: 7}, AvgDurationMs: 95},
	}

	out := modelTable(stats).String()
	assert.Contains(t, out, "MODEL")

	rowFor := func(model string) string {
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, model+" ") {
				return line
			}
		}
		t.Fatalf("no row for %s in:\n%s", model, out)
		return ""
	}
	assert.Contains(t, rowFor("gemini-2.5-pro"), "812ms")
	assert.Contains(t, rowFor("gemini-2.5-pro"), "$0.0125")
	assert.Contains(t, rowFor("gemini-2.5-flash"), "95ms")
}

func TestOpenLogFile(t *testing.T) {
	w, closeFn, err := openLogFile("")
	require.NoError(t, err)
	assert.NotNil(t, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "persona.log")
	w, closeFn, err = openLogFile(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
