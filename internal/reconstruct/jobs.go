package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
)

// Sentinel errors.
var (
	ErrNoIndex        = errors.New("no index file found for chain")
	ErrNoJobs         = errors.New("no chain files given")
	ErrDuplicateChain = errors.New("two chains map to the same store")
)

// codaChain matches the JAGS CODA chain naming, e.g. "CODAchain1".
var codaChain = regexp.MustCompile(`^(.*)chain\d+$`)

// PairIndex locates the index file that belongs to a chain file. It tries,
// in order, the CODA convention (CODAchain1.txt -> CODAindex.txt),
// <stem>.index, and <stem>index.txt next to the chain file.
func PairIndex(chainPath string) (string, error) {
	dir := filepath.Dir(chainPath)
	stem := chainstore.ChainID(chainPath)

	var candidates []string

	if m := codaChain.FindStringSubmatch(stem); m != nil {
		candidates = append(candidates, filepath.Join(dir, m[1]+"index.txt"))
	}

	candidates = append(candidates,
		filepath.Join(dir, stem+".index"),
		filepath.Join(dir, stem+"index.txt"),
	)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoIndex, chainPath)
}

// Jobs builds one job per chain file. A non-empty index is shared by every
// chain; otherwise each chain's index is located with PairIndex.
func Jobs(chains []string, index, outDir string) ([]Job, error) {
	if len(chains) == 0 {
		return nil, ErrNoJobs
	}

	jobs := make([]Job, 0, len(chains))
	seen := make(map[string]string, len(chains))

	for _, chain := range chains {
		id := chainstore.ChainID(chain)
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: %s and %s are both %q", ErrDuplicateChain, prev, chain, id)
		}

		seen[id] = chain

		idx := index
		if idx == "" {
			paired, err := PairIndex(chain)
			if err != nil {
				return nil, err
			}

			idx = paired
		}

		jobs = append(jobs, Job{ChainPath: chain, IndexPath: idx, OutDir: outDir})
	}

	return jobs, nil
}

// RunAll reconstructs every job with at most workers chains in flight. The
// first failure cancels the remaining jobs; chains already committed stay
// committed. Results are in job order.
func RunAll(ctx context.Context, jobs []Job, workers int, opts Options) ([]*Result, error) {
	opts = opts.withDefaults()

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	began := time.Now()
	results := make([]*Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, job := range jobs {
		g.Go(func() error {
			res, err := Run(gctx, job, opts)
			if err != nil {
				return err
			}

			results[i] = res

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	opts.Logger.InfoContext(ctx, "all chains reconstructed",
		"chains", len(jobs),
		"workers", workers,
		"elapsed", time.Since(began).Round(time.Millisecond),
	)

	return results, nil
}
