package pipeline

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/tool"
)

// LogReporter publishes run summaries to the structured log. It is the
// default sink; chat or webhook reporters implement the same interface.
type LogReporter struct {
	log *zap.SugaredLogger
}

func NewLogReporter(log *zap.SugaredLogger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Publish(_ context.Context, s *RunSummary) {
	r.log.Infow("run summary",
		"club", s.Club.Name,
		"effective_date", tool.FormatDate(s.EffectiveDate),
		"trigger", s.Trigger,
		"new_members", s.NewMemberCount,
		"updated_members", s.UpdatedMemberCount,
		"reset_detected", s.ResetDetected,
		"bombs_activated", lo.Map(s.NewlyActivatedBombs, func(a bomb.Activated, _ int) string {
			return a.Member.DisplayName
		}),
		"bombs_deactivated", lo.Map(s.DeactivatedBombs, func(d bomb.Deactivated, _ int) string {
			return d.Member.DisplayName
		}),
		"flagged_for_removal", lo.Map(s.MembersFlaggedForRemoval, func(m *models.Member, _ int) string {
			return m.DisplayName
		}),
	)
}
