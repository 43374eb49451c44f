package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mentorgrid/mentorgrid/libs/auth"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calendar"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/model"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/profile"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/token"
)

const (
	testAccessSecret   = "access-secret"
	testInternalSecret = "internal-secret"
)

type fakeProfiles struct {
	profiles map[string]*profile.Profile
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*profile.Profile, error) {
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, profile.ErrNotFound
}

func testHandler(profiles map[string]*profile.Profile) *Handler {
	return New(Config{
		Profiles:       &fakeProfiles{profiles: profiles},
		Issuer:         token.NewIssuer("action-secret", time.Hour),
		AccessSecret:   testAccessSecret,
		InternalSecret: testInternalSecret,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func accessToken(t *testing.T, sub string) string {
	t.Helper()
	now := time.Now()
	tok, err := auth.SignHS256(auth.Claims{Sub: sub, Iat: now.Unix(), Exp: now.Add(time.Hour).Unix()}, testAccessSecret)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return tok
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestCreateRequiresAccessToken(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if errorBody(t, rec) == "" {
		t.Fatal("expected error body")
	}
}

func TestCreateRejectsInvalidAccessToken(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateRejectsPastTime(t *testing.T) {
	h := testHandler(nil)

	body := `{"mentor_id":"mentor-1","scheduled_at":"2020-01-01T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "mentee-1"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); !strings.Contains(got, "future") {
		t.Fatalf("error = %q, want mention of future", got)
	}
}

func TestCreateRejectsMissingMentor(t *testing.T) {
	h := testHandler(nil)

	scheduledAt := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := `{"mentor_id":"ghost","scheduled_at":"` + scheduledAt + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "mentee-1"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateRejectsUnverifiedMentor(t *testing.T) {
	h := testHandler(map[string]*profile.Profile{
		"mentor-1": {ID: "mentor-1", Email: "m@example.com", DisplayName: "Mentor", Verified: false},
	})

	scheduledAt := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := `{"mentor_id":"mentor-1","scheduled_at":"` + scheduledAt + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "mentee-1"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorBody(t, rec); !strings.Contains(got, "verified") {
		t.Fatalf("error = %q, want mention of verification", got)
	}
}

func TestCreateRejectsSelfBooking(t *testing.T) {
	h := testHandler(nil)

	scheduledAt := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := `{"mentor_id":"member-1","scheduled_at":"` + scheduledAt + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "member-1"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfirmRejectsBadToken(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/confirm", strings.NewReader(`{"token":"garbage"}`))
	rec := httptest.NewRecorder()
	h.Confirm(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestConfirmRejectsCancelToken(t *testing.T) {
	h := testHandler(nil)

	tok, _, err := h.issuer.Issue("appt-1", token.ActionCancel, "mentee")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/confirm", strings.NewReader(`{"token":"`+tok+`"}`))
	rec := httptest.NewRecorder()
	h.Confirm(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSlotsRequiresMentorID(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/availability", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSlotsRejectsInvertedRange(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/availability?mentor_id=m1&start_date=2026-10-10&end_date=2026-10-01", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReplaceWindowsValidation(t *testing.T) {
	h := testHandler(nil)

	cases := []struct {
		name string
		body string
	}{
		{"bad weekday", `{"weekday":7,"windows":[]}`},
		{"inverted window", `{"weekday":1,"windows":[{"start_minute":600,"end_minute":540}]}`},
		{"past midnight", `{"weekday":1,"windows":[{"start_minute":1400,"end_minute":1500}]}`},
		{"overlapping windows", `{"weekday":1,"windows":[{"start_minute":540,"end_minute":720},{"start_minute":700,"end_minute":780}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/availability", strings.NewReader(tc.body))
			req.Header.Set("Authorization", "Bearer "+accessToken(t, "mentor-1"))
			rec := httptest.NewRecorder()
			h.Windows(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	if p.tx == nil {
		p.tx = &fakeTx{}
	}
	return p.tx, nil
}

type fakeAppointments struct {
	overlap   bool
	createErr error
	created   []model.Appointment
}

func (f *fakeAppointments) HasActiveOverlap(context.Context, pgx.Tx, string, time.Time, time.Time) (bool, error) {
	return f.overlap, nil
}

func (f *fakeAppointments) Create(_ context.Context, _ pgx.Tx, a *model.Appointment) (model.Appointment, error) {
	if f.createErr != nil {
		return model.Appointment{}, f.createErr
	}
	saved := *a
	saved.ID = "appt-1"
	saved.CreatedAt = time.Now()
	f.created = append(f.created, saved)
	return saved, nil
}

func (f *fakeAppointments) GetForUpdate(context.Context, pgx.Tx, string) (model.Appointment, error) {
	return model.Appointment{}, pgx.ErrNoRows
}

func (f *fakeAppointments) ListActiveIntervals(context.Context, string, time.Time, time.Time) ([]model.Appointment, error) {
	return nil, nil
}

func (f *fakeAppointments) Confirm(context.Context, pgx.Tx, string) (model.Appointment, error) {
	return model.Appointment{}, pgx.ErrNoRows
}

func (f *fakeAppointments) Cancel(context.Context, pgx.Tx, string, string, string) (model.Appointment, error) {
	return model.Appointment{}, pgx.ErrNoRows
}

func (f *fakeAppointments) ListFuturePendingForMember(context.Context, pgx.Tx, string, time.Time) ([]model.Appointment, error) {
	return nil, nil
}

func (f *fakeAppointments) ListByMentor(context.Context, string, int) ([]model.Appointment, error) {
	return nil, nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeSyncJob struct {
	appointmentID string
	kind          string
	externalID    string
}

type fakeSyncJobs struct {
	jobs []fakeSyncJob
}

func (f *fakeSyncJobs) Insert(_ context.Context, _ pgx.Tx, appointmentID, kind string, _ []byte, externalID string, _ int) error {
	f.jobs = append(f.jobs, fakeSyncJob{appointmentID: appointmentID, kind: kind, externalID: externalID})
	return nil
}

type failingCalendar struct{}

func (failingCalendar) CreateEvent(context.Context, calendar.Event) (*calendar.Created, error) {
	return nil, errors.New("calendar unavailable")
}

func (failingCalendar) DeleteEvent(context.Context, string) error { return nil }

type bookingFixture struct {
	handler *Handler
	pool    *fakePool
	appts   *fakeAppointments
	outbox  *fakeOutbox
	jobs    *fakeSyncJobs
}

func newBookingFixture(appts *fakeAppointments, cal calendar.Adapter) *bookingFixture {
	f := &bookingFixture{
		pool:   &fakePool{},
		appts:  appts,
		outbox: &fakeOutbox{},
		jobs:   &fakeSyncJobs{},
	}
	profiles := map[string]*profile.Profile{
		"mentor-1": {ID: "mentor-1", Email: "mentor@example.com", DisplayName: "Mentor", Verified: true},
		"mentee-1": {ID: "mentee-1", Email: "mentee@example.com", DisplayName: "Mentee", Verified: true},
	}
	f.handler = New(Config{
		Pool:           f.pool,
		Appointments:   appts,
		Outbox:         f.outbox,
		SyncJobs:       f.jobs,
		Profiles:       &fakeProfiles{profiles: profiles},
		Calendar:       cal,
		Issuer:         token.NewIssuer("action-secret", time.Hour),
		AccessSecret:   testAccessSecret,
		InternalSecret: testInternalSecret,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func postCreate(t *testing.T, h *Handler) *httptest.ResponseRecorder {
	t.Helper()
	scheduledAt := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := `{"mentor_id":"mentor-1","scheduled_at":"` + scheduledAt + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/create", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "mentee-1"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func TestCreateRejectsOverlapWithoutInsert(t *testing.T) {
	f := newBookingFixture(&fakeAppointments{overlap: true}, nil)

	rec := postCreate(t, f.handler)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(f.appts.created) != 0 {
		t.Fatalf("expected no insert, got %d", len(f.appts.created))
	}
	if f.pool.tx.committed {
		t.Fatal("transaction must not commit on conflict")
	}
	if !f.pool.tx.rolledBack {
		t.Fatal("transaction should roll back on conflict")
	}
}

func TestCreateMapsExclusionViolationTo409(t *testing.T) {
	f := newBookingFixture(&fakeAppointments{
		createErr: &pgconn.PgError{Code: "23P01"},
	}, nil)

	rec := postCreate(t, f.handler)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if f.pool.tx.committed {
		t.Fatal("transaction must not commit on constraint violation")
	}
}

func TestCreateSucceedsWhenCalendarFails(t *testing.T) {
	f := newBookingFixture(&fakeAppointments{}, failingCalendar{})

	rec := postCreate(t, f.handler)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp struct {
		Success     bool           `json:"success"`
		Appointment map[string]any `json:"appointment"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success=true")
	}
	if v, ok := resp.Appointment["eventId"]; ok {
		t.Fatalf("expected no eventId, got %v", v)
	}
	if got := resp.Appointment["status"]; got != "pending" {
		t.Fatalf("status = %v, want pending", got)
	}

	if len(f.appts.created) != 1 || f.appts.created[0].ExternalEventID != "" {
		t.Fatalf("expected one insert without event id, got %+v", f.appts.created)
	}
	if len(f.jobs.jobs) != 1 || f.jobs.jobs[0].kind != "create" || f.jobs.jobs[0].appointmentID != "appt-1" {
		t.Fatalf("expected one create sync job for appt-1, got %+v", f.jobs.jobs)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != outbox.EventAppointmentRequested {
		t.Fatalf("expected requested event, got %+v", f.outbox.events)
	}
	if !f.pool.tx.committed {
		t.Fatal("transaction should commit")
	}
}

func TestCancelForMemberRequiresInternalToken(t *testing.T) {
	h := testHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/members/cancel-appointments", strings.NewReader(`{"member_id":"m1"}`))
	rec := httptest.NewRecorder()
	h.CancelForMember(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/v1/members/cancel-appointments", strings.NewReader(`{"member_id":"m1"}`))
	req.Header.Set("X-Internal-Token", "wrong")
	rec = httptest.NewRecorder()
	h.CancelForMember(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", rec.Code)
	}
}

func TestCancelForMemberAcceptsInternalToken(t *testing.T) {
	f := newBookingFixture(&fakeAppointments{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/members/cancel-appointments", strings.NewReader(`{"member_id":"m1"}`))
	req.Header.Set("X-Internal-Token", testInternalSecret)
	rec := httptest.NewRecorder()
	f.handler.CancelForMember(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Cancelled int `json:"cancelled"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cancelled != 0 {
		t.Fatalf("cancelled = %d, want 0", resp.Cancelled)
	}
}
