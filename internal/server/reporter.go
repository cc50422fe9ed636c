package server

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func newStatsReporter(schedule string, report func()) (*cron.Cron, error) {
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(schedule, report); err != nil {
		return nil, err
	}
	return c, nil
}

// reportStats logs a snapshot of the pool and refreshes its gauges.
func (s *Server) reportStats() {
	s.pool.RefreshMetrics()

	st := s.pool.Stats()
	s.logger.Info("pool stats",
		slog.Int("workers", st.Size),
		slog.Int("live", st.Live),
		slog.Int("active", st.Active),
		slog.Int("queued", st.Queued),
		slog.Int64("submitted", st.Submitted),
		slog.Int64("completed", st.Completed),
		slog.Int64("failed", st.Failed),
		slog.Int64("panicked", st.Panicked),
		slog.Int64("respawned", st.Respawned),
	)
}
