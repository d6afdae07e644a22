package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"safekitchen/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	err := s.Add("broken", "every tuesday", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	assert.NoError(t, s.Add("weather", "@every 10m", func(context.Context) error { return nil }))
}

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestAlertPruneJob(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old := &models.Alert{UserID: "u1", AlertType: "gas_critical", Severity: models.SeverityHigh, IsResolved: true, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	open := &models.Alert{UserID: "u1", AlertType: "gas_critical", Severity: models.SeverityHigh, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &models.Alert{UserID: "u1", AlertType: "gas_critical", Severity: models.SeverityHigh, IsResolved: true, CreatedAt: time.Now().UTC()}
	for _, a := range []*models.Alert{old, open, fresh} {
		require.NoError(t, st.AppendAlert(ctx, a))
	}

	require.NoError(t, AlertPruneJob(st, 24*time.Hour, zap.NewNop())(ctx))

	left, err := st.ListAlerts(ctx, "u1", 0)
	require.NoError(t, err)
	ids := []uint{}
	for _, a := range left {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []uint{open.ID, fresh.ID}, ids)
}

func TestWeatherRefreshJob(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":30,"weather_code":3}}`))
	}))
	defer srv.Close()

	adv := newTestAdvisor(srv.URL)
	job := WeatherRefreshJob(adv, "Kolkata")
	require.NoError(t, job(context.Background()))
	require.NoError(t, job(context.Background()))
	assert.Equal(t, int32(2), hits.Load())

	report, err := adv.Current(context.Background(), "Kolkata")
	require.NoError(t, err)
	assert.Equal(t, "Cloudy", report.Condition)
	assert.Equal(t, int32(2), hits.Load())
}
