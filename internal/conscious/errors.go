package conscious

import (
	"fmt"

	"github.com/memori-ai/memori/internal/errs"
	"github.com/memori-ai/memori/internal/state"
)

func errTransitionFailed(memoryID string, to state.State) error {
	return fmt.Errorf("conscious: %w: %s -> %s rejected", errs.ErrInvalidTransition, memoryID, to)
}
