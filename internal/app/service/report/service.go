package report

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/tool"
)

// Service assembles read-only status views over the ledger and bomb tables.
type Service struct {
	log    *zap.SugaredLogger
	clubs  *club.Service
	roster *roster.Service
	quota  *quota.Service
	bombs  *bomb.Service
}

func NewService(log *zap.SugaredLogger, clubs *club.Service, rosterSvc *roster.Service, quotaSvc *quota.Service, bombSvc *bomb.Service) *Service {
	return &Service{log: log, clubs: clubs, roster: rosterSvc, quota: quotaSvc, bombs: bombSvc}
}

// MemberStatus is one roster line in the club status view.
type MemberStatus struct {
	Member   *models.Member        `json:"member"`
	Latest   *models.ProgressEntry `json:"latest"`
	HasBomb  bool                  `json:"has_bomb"`
	BombDays int                   `json:"bomb_days_remaining,omitempty"`
}

// StatusSummary splits the active roster into on-track and behind, each
// sorted by urgency.
type StatusSummary struct {
	Club     *models.Club   `json:"club"`
	OnTrack  []MemberStatus `json:"on_track"`
	Behind   []MemberStatus `json:"behind"`
	Unranked []MemberStatus `json:"unranked"`
}

// ClubStatus builds the full status summary for a club. Members with no
// ledger rows yet land in Unranked.
func (s *Service) ClubStatus(ctx context.Context, c *models.Club) (*StatusSummary, error) {
	members, err := s.roster.ListActive(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	statuses := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		latest, err := s.quota.LatestEntry(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		st := MemberStatus{Member: m, Latest: latest}
		if b, err := s.bombs.ActiveForMember(ctx, m.ID); err != nil {
			return nil, err
		} else if b != nil {
			st.HasBomb = true
			st.BombDays = b.DaysRemaining
		}
		statuses = append(statuses, st)
	}

	summary := &StatusSummary{Club: c}
	summary.Unranked = lo.Filter(statuses, func(st MemberStatus, _ int) bool { return st.Latest == nil })
	ranked := lo.Filter(statuses, func(st MemberStatus, _ int) bool { return st.Latest != nil })
	summary.OnTrack = lo.Filter(ranked, func(st MemberStatus, _ int) bool { return st.Latest.DeficitSurplus >= 0 })
	summary.Behind = lo.Filter(ranked, func(st MemberStatus, _ int) bool { return st.Latest.DeficitSurplus < 0 })

	// Biggest surplus first; deepest deficit first.
	sort.Slice(summary.OnTrack, func(i, j int) bool {
		return summary.OnTrack[i].Latest.DeficitSurplus > summary.OnTrack[j].Latest.DeficitSurplus
	})
	sort.Slice(summary.Behind, func(i, j int) bool {
		return summary.Behind[i].Latest.DeficitSurplus < summary.Behind[j].Latest.DeficitSurplus
	})
	return summary, nil
}

// BombStatus lists active bombs soonest to explode first.
func (s *Service) BombStatus(ctx context.Context, c *models.Club) ([]bomb.Activated, error) {
	return s.bombs.ListActiveWithMembers(ctx, c.ID)
}

// QuotaSpan is one stretch of days sharing a daily quota.
type QuotaSpan struct {
	StartDay   int `json:"start_day"`
	EndDay     int `json:"end_day"`
	DailyQuota int `json:"daily_quota"`
}

// QuotaTimeline collapses the month around ref into contiguous spans of
// equal daily quota, resolving the schedule day by day.
func (s *Service) QuotaTimeline(ctx context.Context, c *models.Club, ref time.Time) ([]QuotaSpan, error) {
	entries, err := s.clubs.ScheduleEntries(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	first := tool.FirstOfMonth(ref)
	days := tool.DaysInMonth(ref)

	var spans []QuotaSpan
	for d := 1; d <= days; d++ {
		q := club.ResolveDailyQuota(entries, c.DailyQuota, first.AddDate(0, 0, d-1))
		if len(spans) > 0 && spans[len(spans)-1].DailyQuota == q {
			spans[len(spans)-1].EndDay = d
			continue
		}
		spans = append(spans, QuotaSpan{StartDay: d, EndDay: d, DailyQuota: q})
	}
	return spans, nil
}

// MemberHistory returns a member's recent ledger rows, newest first.
func (s *Service) MemberHistory(ctx context.Context, memberID string, n int) ([]models.ProgressEntry, error) {
	if n <= 0 || n > 31 {
		n = 31
	}
	return s.quota.RecentEntries(ctx, memberID, n)
}
