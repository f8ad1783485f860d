package admin

import "context"

// StatsRepository aggregates platform-wide counts for the overview.
type StatsRepository interface {
	Overview(ctx context.Context) (*Overview, error)
}
