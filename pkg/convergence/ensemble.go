// Package convergence runs a convergence statistic over every variable of a
// multi-chain ensemble and reports the series that have not converged.
package convergence

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

const minChains = 2

// Sentinel errors.
var (
	ErrTooFewChains         = errors.New("convergence needs at least two chains")
	ErrInconsistentEnsemble = errors.New("chains disagree")
	ErrNoVariables          = errors.New("chain has no variables")
)

// Chain is one reconstructed chain: its identifier and variables.
type Chain struct {
	ID   string
	Vars map[string]*tensor.Tensor
}

// Ensemble is the set of chains analyzed together.
type Ensemble struct {
	Chains []Chain
}

// IDs returns the chain identifiers in ensemble order.
func (e Ensemble) IDs() []string {
	ids := make([]string, len(e.Chains))
	for i, c := range e.Chains {
		ids[i] = c.ID
	}

	return ids
}

// Variables returns the variable names of the first chain, sorted.
func (e Ensemble) Variables() []string {
	if len(e.Chains) == 0 {
		return nil
	}

	return slices.Sorted(maps.Keys(e.Chains[0].Vars))
}

// Validate checks that there are at least two chains and that every chain
// holds the same variables with the same shapes.
func (e Ensemble) Validate() error {
	if len(e.Chains) < minChains {
		return fmt.Errorf("%w: got %d", ErrTooFewChains, len(e.Chains))
	}

	first := e.Chains[0]
	if len(first.Vars) == 0 {
		return fmt.Errorf("%w: %s", ErrNoVariables, first.ID)
	}

	names := e.Variables()

	for _, c := range e.Chains[1:] {
		other := slices.Sorted(maps.Keys(c.Vars))
		if !slices.Equal(names, other) {
			return fmt.Errorf("%w: %s has variables %v, %s has %v",
				ErrInconsistentEnsemble, first.ID, names, c.ID, other)
		}

		for _, name := range names {
			want, got := first.Vars[name].Shape, c.Vars[name].Shape
			if !slices.Equal(want, got) {
				return fmt.Errorf("%w: %s has shape %v in %s and %v in %s",
					ErrInconsistentEnsemble, name, want, first.ID, got, c.ID)
			}
		}
	}

	return nil
}

// LoadEnsemble decodes every chain of an open store set.
func LoadEnsemble(set chainstore.Set) (Ensemble, error) {
	e := Ensemble{Chains: make([]Chain, 0, len(set))}

	for _, r := range set {
		vars, err := r.LoadAll()
		if err != nil {
			return Ensemble{}, fmt.Errorf("load ensemble: %w", err)
		}

		id := r.Meta().ChainID
		if id == "" {
			id = chainstore.ChainID(r.Path())
		}

		e.Chains = append(e.Chains, Chain{ID: id, Vars: vars})
	}

	return e, nil
}
