package ports

import (
	"context"

	"falseneg/domain/scenario"
)

// RunArchive persists completed scenario runs for cross-run comparison.
// The archive is optional: a run that cannot be archived is still a
// successful run.
type RunArchive interface {
	SaveRun(ctx context.Context, result *scenario.Result) error
	Close() error
}
