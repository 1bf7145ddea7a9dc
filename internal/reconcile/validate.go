package reconcile

import (
	"poolmirror/internal/apperr"
	"poolmirror/internal/model"
)

// validatePositions checks a whole snapshot before any write.
func validatePositions(poolID string, positions []model.Position) error {
	seen := make(map[int32]struct{}, len(positions))
	for _, pos := range positions {
		if pos.PoolID != poolID {
			return apperr.Validationf("validate positions", "position %d belongs to pool %q, want %q", pos.Index, pos.PoolID, poolID)
		}
		if err := pos.Validate(); err != nil {
			return err
		}
		if _, dup := seen[pos.Index]; dup {
			return apperr.Validationf("validate positions", "pool %s: duplicate position index %d", poolID, pos.Index)
		}
		seen[pos.Index] = struct{}{}
	}
	return nil
}

// validatePools also requires every pool to carry the dex it was fetched
// from, so that scope locks and stale counts cover it.
func validatePools(dex string, pools []model.Pool) error {
	seen := make(map[string]struct{}, len(pools))
	for _, pool := range pools {
		if err := pool.Validate(); err != nil {
			return err
		}
		if pool.Dex != dex {
			return apperr.Validationf("validate pools", "pool %s: dex %q, fetched from %q", pool.ID, pool.Dex, dex)
		}
		if _, dup := seen[pool.ID]; dup {
			return apperr.Validationf("validate pools", "duplicate pool id %s", pool.ID)
		}
		seen[pool.ID] = struct{}{}
	}
	return nil
}

func validateTokens(tokens []model.Token) error {
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if err := tok.Validate(); err != nil {
			return err
		}
		if _, dup := seen[tok.ID]; dup {
			return apperr.Validationf("validate tokens", "duplicate token id %s", tok.ID)
		}
		seen[tok.ID] = struct{}{}
	}
	return nil
}
