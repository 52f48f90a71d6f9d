package poller

import (
	"context"
	"log/slog"

	"github.com/starsorty/starsorty-api/internal/classify"
)

// BatchFunc runs one foreground classification round.
type BatchFunc func(ctx context.Context) (*classify.BatchResult, error)

// LoopResult summarizes a classify-until-done loop.
type LoopResult struct {
	Rounds    int
	Processed int
	Failed    int
	Remaining int
	Exhausted bool // hit the round cap
	Stalled   bool // remaining stopped strictly decreasing
}

// UntilDone repeatedly invokes fn until no unclassified records remain,
// the round cap is reached, or the reported remaining count fails to
// strictly decrease between rounds. The stall check fires after a single
// non-decreasing round, which can end the loop early on a transient bad
// round; that trade-off is accepted to avoid spinning against a stuck
// item forever.
func UntilDone(ctx context.Context, fn BatchFunc, maxRounds int, logger *slog.Logger) (*LoopResult, error) {
	result := &LoopResult{}
	previousRemaining := -1

	for result.Rounds < maxRounds {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := fn(ctx)
		if err != nil {
			return result, err
		}
		result.Rounds++
		result.Processed += batch.Total
		result.Failed += batch.Failed
		result.Remaining = batch.RemainingUnclassified

		if batch.RemainingUnclassified == 0 {
			return result, nil
		}
		if previousRemaining >= 0 && batch.RemainingUnclassified >= previousRemaining {
			result.Stalled = true
			logger.WarnContext(ctx, "classify loop stalled, stopping",
				"rounds", result.Rounds,
				"remaining", batch.RemainingUnclassified)
			return result, nil
		}
		previousRemaining = batch.RemainingUnclassified
	}

	result.Exhausted = true
	logger.WarnContext(ctx, "classify loop hit round cap",
		"rounds", result.Rounds,
		"remaining", result.Remaining)
	return result, nil
}
