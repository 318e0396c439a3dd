package store

import (
	"context"
	"fmt"

	"github.com/me/foamrun/pkg/model"
)

// Store persists the history of foamrun runs.
type Store interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Prune deletes every run except the keep newest ones and returns how many
// were removed. Stage records go with their run.
func Prune(ctx context.Context, st Store, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	removed := 0
	for {
		// Deleting shifts the next batch into the same window.
		runs, _, err := st.ListRuns(ctx, model.ListOptions{Limit: model.MaxRunLimit, Offset: keep})
		if err != nil {
			return removed, fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			return removed, nil
		}
		for _, run := range runs {
			if err := st.DeleteRun(ctx, run.ID); err != nil {
				return removed, fmt.Errorf("delete run %s: %w", run.ID, err)
			}
			removed++
		}
	}
}
