package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clubops/fanquota/pkg/tool"
)

// fileSource replays a snapshot from a local JSON fixture. Used for dev
// environments and for re-running a day from captured data; values are
// already period-cumulative.
type fileSource struct {
	dir       string
	sourceRef string
	log       *zap.SugaredLogger
}

func newFileSource(dir, sourceRef string, log *zap.SugaredLogger) *fileSource {
	return &fileSource{dir: dir, sourceRef: sourceRef, log: log}
}

type fileMember struct {
	ExternalID   string `json:"external_id"`
	DisplayName  string `json:"display_name"`
	DailyValues  []int  `json:"daily_values"`
	JoinDayIndex int    `json:"join_day_index"`
}

type filePayload struct {
	CurrentDayIndex int          `json:"current_day_index"`
	EffectiveDate   string       `json:"effective_date"`
	Members         []fileMember `json:"members"`
}

func (s *fileSource) Fetch(ctx context.Context) (*PeriodSnapshot, error) {
	path := filepath.Join(s.dir, s.sourceRef+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read fixture %s: %v", ErrFetchFailed, path, err)
	}
	var payload filePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse fixture %s: %v", ErrFetchFailed, path, err)
	}
	if payload.CurrentDayIndex < 1 {
		return nil, fmt.Errorf("%w: fixture %s: current_day_index must be >= 1", ErrFetchFailed, path)
	}

	var effectiveDate *time.Time
	if payload.EffectiveDate != "" {
		d, err := tool.ParseDate(payload.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: fixture %s: bad effective_date: %v", ErrFetchFailed, path, err)
		}
		effectiveDate = &d
	}

	snapshot := &PeriodSnapshot{
		Members:         make(map[string]MemberSample, len(payload.Members)),
		CurrentDayIndex: payload.CurrentDayIndex,
		EffectiveDate:   effectiveDate,
	}
	for _, m := range payload.Members {
		if m.DisplayName == "" {
			s.log.Warnw("skipping fixture member with empty display name", "fixture", path)
			continue
		}
		if m.JoinDayIndex < 1 {
			m.JoinDayIndex = 1
		}
		key := m.ExternalID
		if key == "" {
			key = m.DisplayName
		}
		snapshot.Members[key] = MemberSample{
			DisplayName:  m.DisplayName,
			ExternalID:   m.ExternalID,
			DailyValues:  m.DailyValues,
			JoinDayIndex: m.JoinDayIndex,
		}
	}
	return snapshot, nil
}
