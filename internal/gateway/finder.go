package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/seantiz/porter/internal/sandbox"
)

// findProcess returns the most recently started process in sb whose command
// line exactly matches command, or nil if none match. The sandbox does not
// enforce uniqueness: racing start attempts can leave several matches, in
// which case the extras are reported as leaked rather than silently killed.
func findProcess(ctx context.Context, sb sandbox.Sandbox, command []string, logger *slog.Logger) (sandbox.Process, error) {
	procs, err := sb.ListProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var matches []sandbox.Process
	for _, p := range procs {
		if slices.Equal(p.Command(), command) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt().After(matches[j].StartedAt())
	})

	if len(matches) > 1 {
		leaked := make([]string, 0, len(matches)-1)
		for _, p := range matches[1:] {
			leaked = append(leaked, p.ID())
		}
		logger.Warn("multiple gateway processes found, using newest",
			"sandbox", sb.Name(),
			"active", matches[0].ID(),
			"leaked", leaked,
		)
	}

	return matches[0], nil
}
