package revread_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chainstat/pkg/revread"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func forwardLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	return lines
}

func TestReadAll_MatchesForwardRead(t *testing.T) {
	t.Parallel()

	contents := []string{
		"",
		"single",
		"single\n",
		"a\nb\nc",
		"a\nb\nc\n",
		"\n\n\n",
		"alpha 1 3\nbeta[1,1] 4 5\nbeta[2,1] 6 7\n",
		"windows\r\nline endings\r\n",
		strings.Repeat("a fairly long line that spans several blocks\n", 20),
	}

	for _, content := range contents {
		for _, blockSize := range []int{1, 2, 3, 7, 64, revread.DefaultBlockSize} {
			path := writeFile(t, content)

			got, err := revread.ReadAll(path, revread.WithBlockSize(blockSize))
			require.NoError(t, err)

			slices.Reverse(got)
			assert.Equal(t, forwardLines(content), got, "content %q block %d", content, blockSize)
		}
	}
}

func TestNext_TrailingTerminatorYieldsEmptyFirst(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "first\nlast\n")

	r, err := revread.Open(path)
	require.NoError(t, err)

	defer r.Close()

	var got []string

	for line, lineErr := range r.Lines() {
		require.NoError(t, lineErr)

		got = append(got, line)
	}

	assert.Equal(t, []string{"", "last", "first"}, got)
}

func TestLines_NotRestartable(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "x\ny")

	r, err := revread.Open(path)
	require.NoError(t, err)

	defer r.Close()

	count := 0
	for range r.Lines() {
		count++
	}

	assert.Equal(t, 2, count)

	for range r.Lines() {
		t.Fatal("exhausted reader yielded another line")
	}
}

func TestLines_EarlyBreak(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "one\ntwo\nthree")

	r, err := revread.Open(path)
	require.NoError(t, err)

	defer r.Close()

	for line := range r.Lines() {
		assert.Equal(t, "three", line)

		break
	}

	next, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", next)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := revread.Open(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := writeFile(t, "x")

	_, err = revread.Open(path, revread.WithBlockSize(0))
	require.ErrorIs(t, err, revread.ErrInvalidBlockSize)
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	r, err := revread.Open(writeFile(t, "x"))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
