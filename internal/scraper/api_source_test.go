package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

// monthKey matches the query parameters an apiSource sends for one month.
type monthKey struct {
	year  int
	month int
}

func newStatsServer(t *testing.T, byMonth map[monthKey]apiPayload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "10001", r.URL.Query().Get("circle_id"))
		year, _ := strconv.Atoi(r.URL.Query().Get("year"))
		month, _ := strconv.Atoi(r.URL.Query().Get("month"))
		payload, ok := byMonth[monthKey{year, month}]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
}

func newSource(baseURL string, clk clock.Clock) *apiSource {
	cfg := cfgpkg.SourceConfig{BaseURL: baseURL, TimeoutSeconds: 5}
	return newAPISource(cfg, "10001", zap.NewNop().Sugar(), clk)
}

func TestFetchMidMonth(t *testing.T) {
	srv := newStatsServer(t, map[monthKey]apiPayload{
		{2026, 3}: {Members: []apiMember{
			// Joined before the period: baseline 10M subtracted.
			{MemberID: "101", DisplayName: "haru", DailyFans: []int{10_000_000, 11_000_000, 12_500_000}},
			// Joined day 2: zeros before the first positive value.
			{MemberID: "102", DisplayName: "mint", DailyFans: []int{0, 5_000_000, 5_800_000}},
			// Zero on the current day: left the club, excluded.
			{MemberID: "103", DisplayName: "gone", DailyFans: []int{3_000_000, 3_100_000, 0}},
			// No display name: excluded.
			{MemberID: "104", DisplayName: "", DailyFans: []int{1, 2, 3}},
		}},
	})
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 17, 0, 0, 0, time.UTC))
	snap, err := newSource(srv.URL, clk).Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, snap.CurrentDayIndex)
	require.Nil(t, snap.EffectiveDate)
	require.Len(t, snap.Members, 2)

	haru := snap.Members["101"]
	require.Equal(t, "haru", haru.DisplayName)
	require.Equal(t, []int{0, 1_000_000, 2_500_000}, haru.DailyValues)
	require.Equal(t, 1, haru.JoinDayIndex)

	mint := snap.Members["102"]
	require.Equal(t, []int{0, 0, 800_000}, mint.DailyValues)
	require.Equal(t, 2, mint.JoinDayIndex)
}

func TestFetchDayOneFallsBackToPreviousMonth(t *testing.T) {
	srv := newStatsServer(t, map[monthKey]apiPayload{
		{2026, 2}: {Members: []apiMember{
			{MemberID: "101", DisplayName: "haru", DailyFans: lifetimeSeries(28, 10_000_000, 28_000_000)},
		}},
		{2026, 3}: {Members: []apiMember{
			// Index 0 of the new month holds the true period endpoint.
			{MemberID: "101", DisplayName: "haru", DailyFans: []int{29_000_000}},
		}},
	})
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 17, 0, 0, 0, time.UTC))
	snap, err := newSource(srv.URL, clk).Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 28, snap.CurrentDayIndex)
	require.NotNil(t, snap.EffectiveDate)
	require.Equal(t, "2026-02-28", snap.EffectiveDate.Format("2006-01-02"))

	haru := snap.Members["101"]
	// Endpoint correction replaced the final value: 29M lifetime - 10M baseline.
	require.Equal(t, 19_000_000, haru.DailyValues[len(haru.DailyValues)-1])
}

func TestFetchDayOneSurvivesMissingEndpoint(t *testing.T) {
	srv := newStatsServer(t, map[monthKey]apiPayload{
		// Only February exists; the March endpoint fetch 404s.
		{2026, 2}: {Members: []apiMember{
			{MemberID: "101", DisplayName: "haru", DailyFans: lifetimeSeries(28, 10_000_000, 28_000_000)},
		}},
	})
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 17, 0, 0, 0, time.UTC))
	snap, err := newSource(srv.URL, clk).Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 18_000_000, snap.Members["101"].DailyValues[27])
}

func TestFetchErrorIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 17, 0, 0, 0, time.UTC))
	_, err := newSource(srv.URL, clk).Fetch(context.Background())
	require.ErrorIs(t, err, ErrFetchFailed)
}

// lifetimeSeries builds n lifetime values growing linearly from start to end
// inclusive.
func lifetimeSeries(n, start, end int) []int {
	vals := make([]int, n)
	for i := range vals {
		vals[i] = start + (end-start)*i/(n-1)
	}
	return vals
}
