package sheets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BatchGet fetches several ranges of one spreadsheet in parallel through
// GetTable, bounded by Config.MaxConcurrency. Failed ranges are omitted
// from the result; the first failure is returned alongside partial data.
func (c *Client) BatchGet(ctx context.Context, spreadsheetID string, ranges []string, opts GetOptions) (map[string]*Table, error) {
	start := time.Now()
	results := make(map[string]*Table, len(ranges))
	if len(ranges) == 0 {
		return results, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.config.MaxConcurrency)

	for _, rng := range ranges {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			table, err := c.GetTable(ctx, spreadsheetID, rng, opts)
			if err != nil {
				log.Warn().
					Err(err).
					Str("range", rng).
					Msg("Range fetch failed")
				return fmt.Errorf("range %q: %w", rng, err)
			}

			mu.Lock()
			results[rng] = table
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	log.Info().
		Str("spreadsheet", spreadsheetID).
		Int("ranges", len(ranges)).
		Int("fetched", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if err != nil {
		return results, fmt.Errorf("batch fetch (partial data: %d/%d ranges): %w", len(results), len(ranges), err)
	}
	return results, nil
}
