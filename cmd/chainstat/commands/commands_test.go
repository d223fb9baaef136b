package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/internal/report"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
	"github.com/Sumatoshi-tech/chainstat/pkg/version"
)

const (
	testIterations = 200
	testIndex      = "mu 1 200\ntheta[1] 201 400\ntheta[2] 401 600\n"
)

var errTestInit = errors.New("init failed")

func noopObservabilityInit(_ observability.Config) (observability.Providers, error) {
	return observability.Providers{
		Shutdown: func(_ context.Context) error { return nil },
	}, nil
}

// writeChains writes n CODA chains of normal draws sharing one index file.
// Each chain's mu is shifted by spread times the chain number.
func writeChains(t *testing.T, dir string, n int, spread float64) []string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "CODAindex.txt"), []byte(testIndex), 0o600))

	chains := make([]string, n)

	for c := range n {
		rng := rand.New(rand.NewPCG(uint64(c+1), 42))

		var sb strings.Builder

		line := 1

		for v := range 3 {
			shift := 0.0
			if v == 0 {
				shift = spread * float64(c)
			}

			for range testIterations {
				fmt.Fprintf(&sb, "%d %g\n", line, shift+rng.NormFloat64())
				line++
			}
		}

		chains[c] = filepath.Join(dir, fmt.Sprintf("CODAchain%d.txt", c+1))
		require.NoError(t, os.WriteFile(chains[c], []byte(sb.String()), 0o600))
	}

	return chains
}

// emptyConfig keeps tests from picking up a .chainstat.yaml in CWD or $HOME.
func emptyConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chainstat.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	return path
}

func execute(t *testing.T, obsInit observabilityInit, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand(obsInit)

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", emptyConfig(t)}, args...))

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func reconstructArgs(chains []string, out string, extra ...string) []string {
	args := []string{"reconstruct", "--out", out}
	for _, chain := range chains {
		args = append(args, "--chain", chain)
	}

	return append(args, extra...)
}

func TestReconstructThenConverge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stores := filepath.Join(dir, "stores")
	chains := writeChains(t, dir, 3, 0)

	stdout, _, err := execute(t, noopObservabilityInit, reconstructArgs(chains, stores, "--workers", "2")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "CODAchain1 -> "+filepath.Join(stores, "CODAchain1.chain"))
	assert.Contains(t, stdout, "2 variables")

	stdout, _, err = execute(t, noopObservabilityInit, "converge", "--dir", stores, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Convergence of 3 chains")
	assert.Contains(t, stdout, "3 series, 0 flagged, 0 undefined")
	assert.Contains(t, stdout, "All series converged.")
}

func TestConverge_JSONAndPlot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stores := filepath.Join(dir, "stores")
	chains := writeChains(t, dir, 2, 10)

	_, _, err := execute(t, noopObservabilityInit, reconstructArgs(chains, stores)...)
	require.NoError(t, err)

	plot := filepath.Join(dir, "rhat.html")

	stdout, _, err := execute(t, noopObservabilityInit,
		"converge", "--dir", stores, "--format", "json", "--plot", plot)
	require.NoError(t, err, "flagged series alone must not fail the command")

	var doc report.Document
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))

	assert.False(t, doc.Converged)
	assert.Equal(t, []string{"CODAchain1", "CODAchain2"}, doc.Chains)
	require.Len(t, doc.Series, 3)
	assert.Equal(t, "mu", doc.Series[0].Name)
	assert.True(t, doc.Series[0].Flagged)
	assert.Equal(t, "theta_0", doc.Series[1].Name)
	assert.Equal(t, "theta_1", doc.Series[2].Name)

	html, err := os.ReadFile(plot)
	require.NoError(t, err)
	assert.Contains(t, string(html), "theta_1")
}

func TestConverge_FailOnFlagged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stores := filepath.Join(dir, "stores")
	chains := writeChains(t, dir, 2, 10)

	_, _, err := execute(t, noopObservabilityInit, reconstructArgs(chains, stores)...)
	require.NoError(t, err)

	stdout, _, err := execute(t, noopObservabilityInit,
		"converge", "--dir", stores, "--fail-on-flagged", "--no-color")
	require.ErrorIs(t, err, ErrNotConverged)
	assert.Contains(t, err.Error(), "1 of 3 series")
	assert.Contains(t, stdout, "Not converged")
}

func TestConverge_NoStores(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, noopObservabilityInit, "converge", "--dir", t.TempDir())
	require.ErrorIs(t, err, chainstore.ErrNoStores)
}

func TestConverge_ThresholdFromConfigFile(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("convergence:\n  threshold: 0.5\n"), 0o600))

	_, _, err := execute(t, noopObservabilityInit, "--config", cfgPath, "converge", "--dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "convergence.threshold")
}

func TestReconstruct_StrictFailsOnSparseIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stores := filepath.Join(dir, "stores")
	chain := filepath.Join(dir, "sparse.txt")
	index := filepath.Join(dir, "sparse.index")

	require.NoError(t, os.WriteFile(chain, []byte("1 1\n2 2\n3 3\n4 4\n"), 0o600))
	require.NoError(t, os.WriteFile(index, []byte("beta[1,1] 1 2\nbeta[2,2] 3 4\n"), 0o600))

	stdout, _, err := execute(t, noopObservabilityInit, reconstructArgs([]string{chain}, stores)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "beta: 4 of 8 cells missing")

	_, _, err = execute(t, noopObservabilityInit,
		reconstructArgs([]string{chain}, filepath.Join(dir, "strict"), "--strict")...)
	require.Error(t, err)
}

func TestReconstruct_RequiresFlags(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, noopObservabilityInit, "reconstruct", "--out", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain")
}

func TestInspect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stores := filepath.Join(dir, "stores")
	chains := writeChains(t, dir, 2, 0)

	_, _, err := execute(t, noopObservabilityInit, reconstructArgs(chains, stores)...)
	require.NoError(t, err)

	stdout, _, err := execute(t, noopObservabilityInit, "inspect", stores, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CODAchain1")
	assert.Contains(t, stdout, "CODAchain2")
	assert.Contains(t, stdout, "theta")
	assert.Contains(t, stdout, "(2, 200)")

	stdout, _, err = execute(t, noopObservabilityInit,
		"inspect", filepath.Join(stores, "CODAchain1.chain"), "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "chain_id: CODAchain1")

	_, _, err = execute(t, noopObservabilityInit, "inspect", filepath.Join(dir, "absent.chain"))
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(t, noopObservabilityInit, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "chainstat "+version.Version)
}

func TestObservabilityInitError(t *testing.T) {
	t.Parallel()

	failing := func(_ observability.Config) (observability.Providers, error) {
		return observability.Providers{}, errTestInit
	}

	_, _, err := execute(t, failing, "converge", "--dir", t.TempDir())
	require.ErrorIs(t, err, errTestInit)
}

func TestShutdownCalledOnError(t *testing.T) {
	t.Parallel()

	var (
		shutdownCalled bool
		seenCfg        observability.Config
	)

	capture := func(cfg observability.Config) (observability.Providers, error) {
		seenCfg = cfg

		return observability.Providers{
			Shutdown: func(_ context.Context) error {
				shutdownCalled = true

				return nil
			},
		}, nil
	}

	_, _, err := execute(t, capture, "--log-level", "debug", "--log-json", "converge", "--dir", t.TempDir())
	require.Error(t, err)

	assert.True(t, shutdownCalled, "providers.Shutdown must be called on exit")
	assert.Equal(t, observability.ModeConverge, seenCfg.Mode)
	assert.True(t, seenCfg.LogJSON)
	assert.Equal(t, observability.ParseLevel("debug"), seenCfg.LogLevel)
}

func TestCommandSpanRecorded(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	withTracer := func(_ observability.Config) (observability.Providers, error) {
		return observability.Providers{
			Tracer:   tp.Tracer("chainstat"),
			Shutdown: func(_ context.Context) error { return nil },
		}, nil
	}

	_, _, err := execute(t, withTracer, "converge", "--dir", t.TempDir())
	require.Error(t, err)

	var found bool

	for _, span := range exporter.GetSpans() {
		if span.Name == "chainstat.converge" {
			found = true

			assert.Equal(t, "Error", span.Status.Code.String())
		}
	}

	require.True(t, found, "root span 'chainstat.converge' should exist")
}

func TestDiagnosticsServer_StartsAndStops(t *testing.T) {
	t.Parallel()

	_, stderr, err := execute(t, noopObservabilityInit,
		"--diagnostics-addr", "127.0.0.1:0", "converge", "--dir", t.TempDir())
	require.ErrorIs(t, err, chainstore.ErrNoStores)
	assert.Contains(t, stderr, "diagnostics server listening")
}
