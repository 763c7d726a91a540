package handler

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/metrics"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/exjam-alumni/eventreg/internal/repository/memory"
	"github.com/exjam-alumni/eventreg/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret     = "jwt-test-secret"
	paystackKey   = "sk_test_handler"
	adminUserID   = "admin-1"
	memberUserID  = "member-1"
	otherMemberID = "member-2"
)

type testServer struct {
	t        *testing.T
	router   http.Handler
	verifier *auth.Verifier
	gateway  *payment.Paystack
	store    *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	deps := service.Deps{
		Store:    store,
		Notifier: notify.NewNotifier(notify.NewLogDispatcher(log), log),
		Metrics:  m,
		Log:      log,
	}
	gateway := payment.NewPaystack(paystackKey)
	promoter := service.NewPromoter(deps, time.Hour)
	h := NewHandler(Services{
		Events:        service.NewEventService(deps, "NGN"),
		Capacity:      service.NewCapacityTracker(store),
		Registrations: service.NewRegistrationService(deps, promoter),
		Promoter:      promoter,
		Reconciler:    service.NewReconciler(deps, gateway, promoter, "http://localhost"),
		CheckIn:       service.NewCheckInService(deps),
	}, log)
	verifier := auth.NewVerifier(jwtSecret)
	return &testServer{
		t:        t,
		router:   NewRouter(h, verifier, m, log),
		verifier: verifier,
		gateway:  gateway,
		store:    store,
	}
}

func (s *testServer) token(userID string, role auth.Role) string {
	s.t.Helper()
	tok, err := s.verifier.Issue(auth.Identity{UserID: userID, Email: userID + "@example.com", Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) asAdmin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, s.token(adminUserID, auth.RoleAdmin), body)
}

func (s *testServer) asMember(userID, method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, s.token(userID, auth.RoleMember), body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) publishedEvent(capacity int, price int64) model.Event {
	s.t.Helper()
	start := time.Now().Add(48 * time.Hour).UTC()
	rec := s.asAdmin(http.MethodPost, "/admin/events", model.CreateEventRequest{
		Title: "Reunion", Capacity: capacity, Price: price, StartsAt: start, EndsAt: start.Add(time.Hour),
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decode[model.Event](s.t, rec)

	rec = s.asAdmin(http.MethodPatch, "/admin/events/"+ev.ID+"/status", model.UpdateEventStatusRequest{Status: "PUBLISHED"})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.Event](s.t, rec)
}

func (s *testServer) webhook(event, reference string, amount int64, sign bool) *httptest.ResponseRecorder {
	s.t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data":  map[string]any{"reference": reference, "amount": amount, "currency": "NGN"},
	})
	require.NoError(s.t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	if sign {
		req.Header.Set(payment.SignatureHeader, s.gateway.Sign(body))
	} else {
		req.Header.Set(payment.SignatureHeader, "forged")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eventreg_http_request_duration_seconds")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/registrations", "", model.RegisterRequest{EventID: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/registrations", "not-a-jwt", model.RegisterRequest{EventID: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.asMember(memberUserID, http.MethodPost, "/admin/events", model.CreateEventRequest{Title: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.asMember(memberUserID, http.MethodPost, "/check-in", model.CheckInRequest{RegistrationID: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegisterFlow(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(1, 0)

	rec := s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID, TicketType: "REGULAR"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[model.RegistrationResult](t, rec)
	assert.Equal(t, model.RegistrationConfirmed, first.Status)

	rec = s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_REGISTERED", decode[model.ErrorResponse](t, rec).Code)

	rec = s.asMember(otherMemberID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[model.RegistrationResult](t, rec)
	assert.Equal(t, model.RegistrationWaitlisted, second.Status)
	assert.Equal(t, 1, second.Position)

	rec = s.do(http.MethodGet, "/events/"+ev.ID+"/capacity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"capacity":1,"available":false,"remaining":0,"confirmedCount":1,"waitlistCount":1}`, rec.Body.String())

	rec = s.asMember(otherMemberID, http.MethodPost, "/registrations/"+first.RegistrationID+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.asMember(memberUserID, http.MethodPost, "/registrations/"+first.RegistrationID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.asMember(otherMemberID, http.MethodGet, "/me/registrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]model.Registration](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, model.RegistrationPending, mine[0].Status)

	rec = s.asMember(otherMemberID, http.MethodPost, "/registrations/"+mine[0].ID+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RegistrationConfirmed, decode[model.Registration](t, rec).Status)
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.asMember(memberUserID, http.MethodPost, "/registrations", map[string]any{"eventId": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	start := time.Now().Add(time.Hour)
	rec = s.asAdmin(http.MethodPost, "/admin/events", model.CreateEventRequest{Title: "Draft", Capacity: 1, StartsAt: start, EndsAt: start.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[model.Event](t, rec)

	rec = s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: draft.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "EVENT_NOT_PUBLISHED", decode[model.ErrorResponse](t, rec).Code)

	rec = s.asAdmin(http.MethodPost, "/admin/events", model.CreateEventRequest{Title: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[model.ErrorResponse](t, rec).Code)
}

func TestPaymentWebhookAndCheckIn(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(5, 100000)

	rec := s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[model.RegistrationResult](t, rec)

	rec = s.asAdmin(http.MethodPost, "/check-in", model.CheckInRequest{RegistrationID: res.RegistrationID})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.asMember(memberUserID, http.MethodGet, "/registrations/"+res.RegistrationID+"/badge", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.webhook("charge.success", res.PaymentReference, 100000, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.webhook("charge.success", res.PaymentReference, 100000, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":true}`, rec.Body.String())

	rec = s.webhook("charge.success", res.PaymentReference, 100000, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":false,"reason":"ALREADY_PROCESSED"}`, rec.Body.String())

	rec = s.asMember(memberUserID, http.MethodGet, "/registrations/"+res.RegistrationID+"/badge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = s.asAdmin(http.MethodPost, "/check-in", model.CheckInRequest{TicketID: res.TicketID, Location: "Gate A"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[model.CheckInResult](t, rec)
	assert.True(t, out.Success)
	assert.NotNil(t, out.CheckInTime)

	rec = s.asAdmin(http.MethodPost, "/check-in", model.CheckInRequest{RegistrationID: res.RegistrationID})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[model.CheckInResult](t, rec)
	assert.False(t, again.Success)
	assert.Equal(t, "already checked in", again.Message)

	rec = s.asAdmin(http.MethodGet, "/check-in?ticketId="+res.TicketID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[checkInStatus](t, rec)
	assert.True(t, status.CheckedIn)
	assert.Equal(t, "Gate A", status.Location)

	rec = s.asAdmin(http.MethodPost, "/check-in", model.CheckInRequest{RegistrationID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decode[model.EventAnalytics](t, rec)
	assert.Equal(t, int64(100000), analytics.Payments.Revenue)
	assert.Equal(t, 1, analytics.CheckedInCount)
}

func TestWebhookUnknownReferenceIsAcknowledged(t *testing.T) {
	s := newTestServer(t)

	rec := s.webhook("charge.success", "nope", 100, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":false,"reason":"UNKNOWN_REFERENCE"}`, rec.Body.String())
}

func TestAdminWaitlistEndpoints(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(1, 0)

	s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	s.asMember(otherMemberID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})

	rec := s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/waitlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]model.WaitlistEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, otherMemberID, entries[0].UserID)

	rec = s.asAdmin(http.MethodPost, "/admin/events/"+ev.ID+"/waitlist/promote", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Promotion](t, rec).Promoted)

	rec = s.asAdmin(http.MethodPost, "/admin/waitlist/expire-offers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":0}`, rec.Body.String())

	rec = s.asMember(otherMemberID, http.MethodPost, "/events/"+ev.ID+"/waitlist/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.WaitlistLeft, decode[model.WaitlistEntry](t, rec).Status)

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Registration](t, rec), 1)
}

func TestResolvePaymentEndpoint(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(2, 100000)

	rec := s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	res := decode[model.RegistrationResult](t, rec)

	rec = s.webhook("charge.success", res.PaymentReference, 99, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":false,"reason":"AMOUNT_MISMATCH"}`, rec.Body.String())

	rec = s.asAdmin(http.MethodPost, "/admin/payments/"+res.PaymentReference+"/resolve", model.ResolvePaymentRequest{Approve: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PaymentSuccess, decode[model.Payment](t, rec).Status)

	rec = s.asAdmin(http.MethodPost, "/admin/payments/"+res.PaymentReference+"/resolve", model.ResolvePaymentRequest{Approve: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventsPublicListing(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	ev := s.publishedEvent(3, 0)
	rec = s.do(http.MethodGet, "/events/"+ev.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ev.ID, decode[model.Event](t, rec).ID)

	rec = s.do(http.MethodGet, "/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/registrations", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExportRegistrationsCSV(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(3, 0)

	rec := s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID, TicketType: "VIP"})
	require.Equal(t, http.StatusCreated, rec.Code)
	kept := decode[model.RegistrationResult](t, rec)

	rec = s.asMember(otherMemberID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	dropped := decode[model.RegistrationResult](t, rec)
	rec = s.asMember(otherMemberID, http.MethodPost, "/registrations/"+dropped.RegistrationID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.asAdmin(http.MethodPost, "/check-in", model.CheckInRequest{TicketID: kept.TicketID, Location: "Main Hall"})
	require.Equal(t, http.StatusOK, rec.Code)

	readCSV := func(rec *httptest.ResponseRecorder) [][]string {
		t.Helper()
		body := strings.TrimPrefix(rec.Body.String(), "\xEF\xBB\xBF")
		rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
		require.NoError(t, err)
		return rows
	}

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "registrations-export-")
	rows := readCSV(rec)
	require.Len(t, rows, 3)
	assert.Equal(t, "Ticket Number", rows[0][1])

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export?status=attended", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows = readCSV(rec)
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, kept.RegistrationID, row[0])
	assert.Equal(t, kept.TicketID, row[1])
	assert.Equal(t, "Reunion", row[3])
	assert.Equal(t, "VIP", row[5])
	assert.Equal(t, "ATTENDED", row[6])
	assert.Equal(t, "Yes", row[10])
	assert.NotEmpty(t, row[11])
	assert.Equal(t, "Main Hall", row[12])

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export?status=CANCELLED", nil)
	rows = readCSV(rec)
	require.Len(t, rows, 2)
	assert.Equal(t, dropped.RegistrationID, rows[1][0])
	assert.Equal(t, "No", rows[1][10])

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export?status=all", nil)
	assert.Len(t, readCSV(rec), 3)

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.asAdmin(http.MethodGet, "/admin/events/missing/registrations/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.asMember(memberUserID, http.MethodGet, "/admin/events/"+ev.ID+"/registrations/export", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResponsesUseCamelCaseKeys(t *testing.T) {
	s := newTestServer(t)
	ev := s.publishedEvent(2, 0)

	rec := s.do(http.MethodGet, "/events/"+ev.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	event := decode[map[string]any](t, rec)
	assert.Contains(t, event, "startsAt")
	assert.Contains(t, event, "createdAt")
	assert.NotContains(t, event, "starts_at")

	rec = s.asMember(memberUserID, http.MethodPost, "/registrations", model.RegisterRequest{EventID: ev.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[model.RegistrationResult](t, rec)

	rec = s.asMember(memberUserID, http.MethodGet, "/registrations/"+res.RegistrationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reg := decode[map[string]any](t, rec)
	for _, key := range []string{"eventId", "userId", "ticketId", "ticketType", "slotState", "badgeIssuedAt", "reviewRequired"} {
		assert.Contains(t, reg, key)
	}
	assert.NotContains(t, reg, "event_id")

	rec = s.asAdmin(http.MethodGet, "/admin/events/"+ev.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decode[map[string]any](t, rec)
	assert.Contains(t, analytics, "statusCounts")
	assert.Contains(t, analytics, "dailyRegistrations")
	assert.Contains(t, analytics, "checkedInCount")
}
