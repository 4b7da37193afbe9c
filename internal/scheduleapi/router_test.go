package scheduleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/alert"
	"github.com/hackgods/hospital-scheduling/internal/api"
	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/appointment/appointmenttest"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/remote"
	"github.com/hackgods/hospital-scheduling/internal/schedule"
	"github.com/hackgods/hospital-scheduling/internal/schedule/scheduletest"
)

var clinicNow = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type alertLog struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (l *alertLog) Notify(_ context.Context, a alert.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
	return nil
}

func (l *alertLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.alerts)
}

// cluster runs both services over real HTTP. The appointment service checks
// availability against the schedule service, and the schedule service drives
// the saga against the appointment service.
type cluster struct {
	appts     *httptest.Server
	schedules *httptest.Server
	apptRepo  *appointmenttest.Repository
	alerts    *alertLog
	doctor    appointment.Doctor
	patient   appointment.Patient

	// down makes the appointment service answer 503 to everything.
	down atomic.Bool
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	c := &cluster{apptRepo: appointmenttest.NewRepository(), alerts: &alertLog{}}
	c.doctor = c.apptRepo.AddDoctor("Dr. Omar Haddad", "Cardiology")
	c.patient = c.apptRepo.AddPatient("Ines Brandt")

	var apptHandler http.Handler
	c.appts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.down.Load() {
			httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "maintenance")
			return
		}
		apptHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(c.appts.Close)

	retrying := remote.NewRetryingAppointmentClient(remote.NewAppointmentClient(c.appts.URL, time.Second), remote.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		CallTimeout: time.Second,
	}, zerolog.Nop())
	repo := scheduletest.NewRepository()
	c.schedules = httptest.NewServer(NewRouter(RouterConfig{
		Service: schedule.NewService(repo, retrying, zerolog.Nop()),
		Orchestrator: schedule.NewOrchestrator(repo, retrying, appointmenttest.NewLocker(), c.alerts, zerolog.Nop(),
			schedule.WithCommitPolicy(schedule.CommitPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})),
		Health: httpx.NewHealthHandler("test", "dev"),
		Logger: zerolog.Nop(),
	}))
	t.Cleanup(c.schedules.Close)

	svc := appointment.NewService(c.apptRepo, appointmenttest.NewSequencer(), appointmenttest.NewLocker(), zerolog.Nop(),
		appointment.WithClock(func() time.Time { return clinicNow }),
		appointment.WithAvailability(remote.NewScheduleClient(c.schedules.URL, time.Second)))
	apptHandler = api.NewRouter(api.RouterConfig{Service: svc, Logger: zerolog.Nop()})

	return c
}

func call(t *testing.T, base, method, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, base+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(httpx.HeaderActorID, "admin-7")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func (c *cluster) createSchedule(t *testing.T) ScheduleResponse {
	t.Helper()
	var s ScheduleResponse
	resp := call(t, c.schedules.URL, http.MethodPost, "/schedules", CreateScheduleRequest{
		StaffID:   c.doctor.ID.String(),
		Date:      clinicNow.Format(time.DateOnly),
		StartTime: "08:00",
		EndTime:   "17:00",
	}, &s)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create schedule: %d", resp.StatusCode)
	}
	return s
}

func (c *cluster) walkIn(t *testing.T) int {
	t.Helper()
	return call(t, c.appts.URL, http.MethodPost, "/appointments/walk-ins", api.WalkInRequest{
		PatientID: c.patient.ID.String(),
		DoctorID:  c.doctor.ID.String(),
	}, nil).StatusCode
}

func TestCreateAndGetSchedule(t *testing.T) {
	c := newCluster(t)
	created := c.createSchedule(t)
	if created.Status != "AVAILABLE" || created.CreatedBy != "admin-7" {
		t.Errorf("unexpected schedule %+v", created)
	}

	var got ScheduleResponse
	if resp := call(t, c.schedules.URL, http.MethodGet, "/schedules/"+created.ID.String(), nil, &got); resp.StatusCode != http.StatusOK || got.ID != created.ID {
		t.Errorf("get: %d %+v", resp.StatusCode, got)
	}

	var errBody httpx.ErrorResponse
	resp := call(t, c.schedules.URL, http.MethodPost, "/schedules", CreateScheduleRequest{
		StaffID:   c.doctor.ID.String(),
		Date:      clinicNow.Format(time.DateOnly),
		StartTime: "09:00",
		EndTime:   "12:00",
	}, &errBody)
	if resp.StatusCode != http.StatusConflict || errBody.Error != "schedule_exists" {
		t.Errorf("duplicate: %d %+v", resp.StatusCode, errBody)
	}

	if resp := call(t, c.schedules.URL, http.MethodGet, "/schedules/not-a-uuid", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: %d", resp.StatusCode)
	}
}

func TestBookingRequiresSchedule(t *testing.T) {
	c := newCluster(t)

	var errBody httpx.ErrorResponse
	resp := call(t, c.appts.URL, http.MethodPost, "/appointments/walk-ins", api.WalkInRequest{
		PatientID: c.patient.ID.String(),
		DoctorID:  c.doctor.ID.String(),
	}, &errBody)
	if resp.StatusCode != http.StatusConflict || errBody.Error != "schedule_unavailable" {
		t.Fatalf("expected schedule_unavailable, got %d %+v", resp.StatusCode, errBody)
	}

	c.createSchedule(t)
	if code := c.walkIn(t); code != http.StatusCreated {
		t.Errorf("walk-in on scheduled day: %d", code)
	}
}

func TestCancelScheduleOverHTTP(t *testing.T) {
	c := newCluster(t)
	s := c.createSchedule(t)
	for i := 0; i < 2; i++ {
		if code := c.walkIn(t); code != http.StatusCreated {
			t.Fatalf("walk-in: %d", code)
		}
	}
	if resp := call(t, c.appts.URL, http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		PatientID:       c.patient.ID.String(),
		DoctorID:        c.doctor.ID.String(),
		AppointmentTime: clinicNow.Add(2 * time.Hour).Format(time.RFC3339),
	}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("timed booking: %d", resp.StatusCode)
	}

	var saga SagaResponse
	resp := call(t, c.schedules.URL, http.MethodPost, "/schedules/"+s.ID.String()+"/cancel", CancelScheduleRequest{Reason: "conference"}, &saga)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d", resp.StatusCode)
	}
	if saga.Phase != "COMMITTED" || saga.CancelledCount != 3 || saga.PriorStatus != "AVAILABLE" {
		t.Errorf("unexpected saga %+v", saga)
	}
	for _, a := range c.apptRepo.All() {
		if a.Status != appointment.StatusCancelled || a.CancelReason == nil || *a.CancelReason != "conference" {
			t.Errorf("appointment %s not cancelled by saga: %s", a.ID, a.Status)
		}
	}

	var avail remote.AvailabilityResponse
	call(t, c.schedules.URL, http.MethodGet, "/schedules/availability?doctor_id="+c.doctor.ID.String()+"&date="+clinicNow.Format(time.DateOnly), nil, &avail)
	if avail.Bookable || avail.Status != "CANCELLED" {
		t.Errorf("unexpected availability %+v", avail)
	}
	if code := c.walkIn(t); code != http.StatusConflict {
		t.Errorf("walk-in on cancelled day: %d", code)
	}

	var errBody httpx.ErrorResponse
	resp = call(t, c.schedules.URL, http.MethodPost, "/schedules/"+s.ID.String()+"/cancel", nil, &errBody)
	if resp.StatusCode != http.StatusConflict || errBody.Error != "schedule_cancelled" {
		t.Errorf("second cancel: %d %+v", resp.StatusCode, errBody)
	}
	if resp := call(t, c.schedules.URL, http.MethodDelete, "/schedules/"+s.ID.String(), nil, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("delete cancelled schedule: %d", resp.StatusCode)
	}
}

func TestCancelScheduleParksWhenAppointmentsUnreachable(t *testing.T) {
	c := newCluster(t)
	s := c.createSchedule(t)
	if code := c.walkIn(t); code != http.StatusCreated {
		t.Fatalf("walk-in: %d", code)
	}

	c.down.Store(true)
	var errBody httpx.ErrorResponse
	resp := call(t, c.schedules.URL, http.MethodPost, "/schedules/"+s.ID.String()+"/cancel", nil, &errBody)
	if resp.StatusCode != http.StatusBadGateway || errBody.Error != "saga_compensation_failed" {
		t.Fatalf("expected 502 saga_compensation_failed, got %d %+v", resp.StatusCode, errBody)
	}
	sagaID := resp.Header.Get("X-Saga-ID")
	if sagaID == "" || c.alerts.count() != 1 {
		t.Fatalf("saga id %q, alerts %d", sagaID, c.alerts.count())
	}

	var got ScheduleResponse
	call(t, c.schedules.URL, http.MethodGet, "/schedules/"+s.ID.String(), nil, &got)
	if got.Status != "PENDING_CANCEL" {
		t.Errorf("schedule %s, want PENDING_CANCEL", got.Status)
	}

	c.down.Store(false)
	var saga SagaResponse
	if resp := call(t, c.schedules.URL, http.MethodPost, "/sagas/"+sagaID+"/reconcile", nil, &saga); resp.StatusCode != http.StatusOK || saga.Phase != "ROLLED_BACK" {
		t.Fatalf("reconcile: %d %+v", resp.StatusCode, saga)
	}
	call(t, c.schedules.URL, http.MethodGet, "/schedules/"+s.ID.String(), nil, &got)
	if got.Status != "AVAILABLE" {
		t.Errorf("schedule %s, want AVAILABLE", got.Status)
	}
	if code := c.walkIn(t); code != http.StatusCreated {
		t.Errorf("walk-in after reconcile: %d", code)
	}
}

func TestDeleteSchedule(t *testing.T) {
	c := newCluster(t)
	s := c.createSchedule(t)
	if code := c.walkIn(t); code != http.StatusCreated {
		t.Fatalf("walk-in: %d", code)
	}

	var errBody httpx.ErrorResponse
	resp := call(t, c.schedules.URL, http.MethodDelete, "/schedules/"+s.ID.String(), nil, &errBody)
	if resp.StatusCode != http.StatusConflict || errBody.Error != "active_appointments" {
		t.Fatalf("delete with bookings: %d %+v", resp.StatusCode, errBody)
	}

	a := c.apptRepo.All()[0]
	if resp := call(t, c.appts.URL, http.MethodPost, "/appointments/"+a.ID.String()+"/cancel", api.CancelRequest{Reason: "feeling better"}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel appointment: %d", resp.StatusCode)
	}
	if resp := call(t, c.schedules.URL, http.MethodDelete, "/schedules/"+s.ID.String(), nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete empty day: %d", resp.StatusCode)
	}
	if resp := call(t, c.schedules.URL, http.MethodGet, "/schedules/"+s.ID.String(), nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted schedule still served: %d", resp.StatusCode)
	}
}
