package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"safekitchen/models"
	"safekitchen/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func openTestStore(t *testing.T) *store.Repo {
	t.Helper()
	dsn := "file:services_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := store.Open("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)
	repo, err := store.New(db)
	require.NoError(t, err)
	return repo
}

func newTestAutomation(t *testing.T, st Store) *Automation {
	t.Helper()
	a := NewAutomation(st, nil, zap.NewNop())
	a.now = fixedClock
	return a
}

func addReading(t *testing.T, st Store, user string, sensor models.SensorType, v float64) {
	t.Helper()
	require.NoError(t, st.AppendReading(context.Background(), &models.SensorReading{
		UserID: user, SensorType: sensor, Value: v, Unit: sensor.DefaultUnit(),
	}))
}

func addRule(t *testing.T, st Store, user string, sensor models.SensorType, cond models.TriggerCondition, thr float64, device string, state models.ActionState, enabled bool) {
	t.Helper()
	require.NoError(t, st.CreateRule(context.Background(), &models.AutomationRule{
		UserID: user, TriggerSensor: sensor, TriggerCondition: cond, TriggerThreshold: thr,
		ActionDevice: device, ActionState: state, IsEnabled: enabled,
	}))
}

func deviceMap(t *testing.T, st Store, user string) map[string]models.DeviceState {
	t.Helper()
	states, err := st.ListDeviceStates(context.Background(), user)
	require.NoError(t, err)
	out := map[string]models.DeviceState{}
	for _, s := range states {
		out[s.DeviceType] = s
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (r *recordingNotifier) NotifyAlert(_ context.Context, a models.Alert, _ models.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type actuation struct {
	user, device string
	on           bool
}

type recordingActuator struct {
	mu    sync.Mutex
	calls []actuation
	err   error
}

func (r *recordingActuator) Actuate(_ context.Context, user, device string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, actuation{user, device, on})
	return r.err
}
