package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/tool"
)

// apiSource pulls per-member daily fan series from the circle-stats HTTP API.
// The API reports lifetime cumulative fans per day; this source converts them
// to period-cumulative values before handing them to the engine.
type apiSource struct {
	baseURL   string
	sourceRef string
	client    *http.Client
	log       *zap.SugaredLogger
	clk       clock.Clock
}

func newAPISource(cfg cfgpkg.SourceConfig, sourceRef string, log *zap.SugaredLogger, clk clock.Clock) *apiSource {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &apiSource{
		baseURL:   cfg.BaseURL,
		sourceRef: sourceRef,
		client:    &http.Client{Timeout: timeout},
		log:       log,
		clk:       clk,
	}
}

type apiMember struct {
	MemberID    json.Number `json:"member_id"`
	DisplayName string      `json:"display_name"`
	DailyFans   []int       `json:"daily_fans"`
}

type apiPayload struct {
	Members []apiMember `json:"members"`
}

func (s *apiSource) fetchMonth(ctx context.Context, year int, month time.Month) (*apiPayload, error) {
	q := url.Values{}
	q.Set("circle_id", s.sourceRef)
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(int(month)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %d-%02d", ErrFetchFailed, resp.StatusCode, year, month)
	}
	var payload apiPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetchFailed, err)
	}
	return &payload, nil
}

// Fetch retrieves the period snapshot. On day 1 the new period has not
// populated upstream yet, so the previous month is fetched as the primary
// source and EffectiveDate is set to its last day. The current month's
// index 0 is then used as the true endpoint per member, capturing fans
// earned between the previous month's last snapshot and the reset.
func (s *apiSource) Fetch(ctx context.Context) (*PeriodSnapshot, error) {
	now := s.clk.Now()
	year, month := now.Year(), now.Month()

	var effectiveDate *time.Time
	currentDay := now.Day()

	if now.Day() == 1 {
		prev := tool.FirstOfMonth(now).AddDate(0, 0, -1)
		year, month = prev.Year(), prev.Month()
		currentDay = prev.Day()
		effectiveDate = &prev
		s.log.Infow("day 1: falling back to previous month as primary source",
			"year", year, "month", int(month), "effective_date", tool.FormatDate(prev))
	}

	primary, err := s.fetchMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}

	// Day-1 endpoint correction: current month's index 0 per member.
	endpointTotals := map[string]int{}
	if now.Day() == 1 {
		if endpoint, err := s.fetchMonth(ctx, now.Year(), now.Month()); err != nil {
			s.log.Warnw("endpoint correction fetch failed, using previous month's last snapshot", "err", err)
		} else {
			for _, m := range endpoint.Members {
				if len(m.DailyFans) > 0 && m.DailyFans[0] > 0 {
					endpointTotals[m.MemberID.String()] = m.DailyFans[0]
				}
			}
		}
	}

	snapshot := &PeriodSnapshot{
		Members:         make(map[string]MemberSample, len(primary.Members)),
		CurrentDayIndex: currentDay,
		EffectiveDate:   effectiveDate,
	}

	for _, m := range primary.Members {
		sample, ok := s.parseMember(m, currentDay, endpointTotals)
		if !ok {
			continue
		}
		key := sample.ExternalID
		if key == "" {
			key = sample.DisplayName
		}
		snapshot.Members[key] = sample
	}

	s.log.Infow("snapshot fetched", "members", len(snapshot.Members), "current_day", currentDay)
	return snapshot, nil
}

// parseMember converts one member's lifetime series into period-cumulative
// values. Members whose current-day value is 0 have left the club and are
// excluded entirely.
func (s *apiSource) parseMember(m apiMember, currentDay int, endpointTotals map[string]int) (MemberSample, bool) {
	if m.DisplayName == "" {
		s.log.Warnw("skipping member with missing display name", "member_id", m.MemberID.String())
		return MemberSample{}, false
	}
	idx := currentDay - 1
	if idx >= len(m.DailyFans) || idx < 0 {
		s.log.Warnw("current day exceeds series length", "member", m.DisplayName, "day", currentDay, "len", len(m.DailyFans))
		return MemberSample{}, false
	}
	if m.DailyFans[idx] == 0 {
		// left the club
		return MemberSample{}, false
	}

	// First positive lifetime value marks the join day and the baseline to
	// subtract for period totals.
	joinDay := 1
	starting := 0
	for i := 0; i < currentDay && i < len(m.DailyFans); i++ {
		if m.DailyFans[i] > 0 {
			joinDay = i + 1
			starting = m.DailyFans[i]
			break
		}
	}

	period := make([]int, 0, currentDay)
	for i := 0; i < currentDay; i++ {
		lifetime := m.DailyFans[i]
		if lifetime <= 0 {
			period = append(period, 0)
			continue
		}
		v := lifetime - starting
		if v < 0 {
			v = 0
		}
		period = append(period, v)
	}

	// Replace the final value with the endpoint-derived total when it is
	// larger; this recovers fans earned right before the period boundary.
	if endpoint, ok := endpointTotals[m.MemberID.String()]; ok && endpoint >= starting {
		if corrected := endpoint - starting; corrected > period[len(period)-1] {
			period[len(period)-1] = corrected
		}
	}

	return MemberSample{
		DisplayName:  m.DisplayName,
		ExternalID:   m.MemberID.String(),
		DailyValues:  period,
		JoinDayIndex: joinDay,
	}, true
}
