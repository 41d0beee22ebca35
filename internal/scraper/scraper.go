package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

var (
	// ErrFetchFailed wraps any transport or decode failure so callers can
	// distinguish "source broken" from an empty-but-valid snapshot.
	ErrFetchFailed = errors.New("source fetch failed")
)

// MemberSample is the fixed-shape record for one scraped member, validated
// at this boundary so nothing loosely-typed crosses into the engine.
type MemberSample struct {
	DisplayName string
	// ExternalID is empty when the source only knows display names.
	ExternalID string
	// DailyValues[i] is the member's cumulative period progress as of day i+1.
	DailyValues []int
	// JoinDayIndex is the 1-based day of period the member first showed progress.
	JoinDayIndex int
}

// PeriodSnapshot is one fetch result: every member's day-indexed progress
// plus the day-of-period the source asserts is current.
type PeriodSnapshot struct {
	// Members is keyed by external id when present, else display name.
	Members         map[string]MemberSample
	CurrentDayIndex int
	// EffectiveDate is non-nil only when the source fell back to reporting the
	// previous period (day 1 of a new period); callers must then record
	// results under this date instead of today.
	EffectiveDate *time.Time
}

// Source is the capability the reconciliation pipeline depends on. A fetch
// error is always distinguishable from an empty snapshot: zero members with
// a nil error means the club genuinely has no members right now.
type Source interface {
	Fetch(ctx context.Context) (*PeriodSnapshot, error)
}

// Factory builds the configured Source backend for one club.
type Factory func(club *models.Club) (Source, error)

func NewFactory(cfg *cfgpkg.Config, log *zap.SugaredLogger, clk clock.Clock) Factory {
	return func(club *models.Club) (Source, error) {
		if club.SourceRef == "" {
			return nil, fmt.Errorf("club %s has no source_ref configured", club.Name)
		}
		switch cfg.Source.Backend {
		case "api", "":
			return newAPISource(cfg.Source, club.SourceRef, log, clk), nil
		case "file":
			return newFileSource(cfg.Source.FixtureDir, club.SourceRef, log), nil
		default:
			return nil, fmt.Errorf("unknown source backend: %s", cfg.Source.Backend)
		}
	}
}

var Module = fx.Options(
	fx.Provide(NewFactory),
)
