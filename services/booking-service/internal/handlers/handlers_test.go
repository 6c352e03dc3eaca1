package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/reservation"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
	"github.com/marcodenti/gymbook/services/booking-service/internal/transition"
)

func testServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.SeedClient(model.ClientRef{ID: "c-1", FirstName: "Ada", LastName: "Moretti", Email: "ada@example.com"})
	store.SeedClient(model.ClientRef{ID: "c-2", FirstName: "Bo", LastName: "Keller", Email: "bo@example.com"})
	store.SeedSlot(model.TimeSlot{
		ID:      "slot-1",
		TypeTag: "personal-training",
		StartAt: time.Date(2099, 9, 14, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2099, 9, 14, 11, 0, 0, 0, time.UTC),
	})
	store.SeedSlotTypes(model.SlotType{Code: "personal-training", Description: "One to one training", Position: 1})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := guard.NewStaticProvider()
	h := New(store, reservation.NewCoordinator(store, g, logger), transition.NewService(store, g, logger), g, logger)

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (int, testEnvelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func asClient(id string) map[string]string {
	return map[string]string{"X-User-Id": "u-" + id, "X-Client-Id": id, "X-Role": "client"}
}

var asAdmin = map[string]string{"X-User-Id": "u-admin", "X-Role": "admin"}

func TestBookEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-1"))
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if !env.Success {
		t.Fatalf("success = false, error = %q", env.Error)
	}

	var item struct {
		AppointmentID string `json:"appointment_id"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &item); err != nil {
		t.Fatal(err)
	}
	if item.Status != "pending" {
		t.Fatalf("booking status = %s, want pending", item.Status)
	}
	if item.AppointmentID == "" {
		t.Fatal("empty appointment id")
	}
}

func TestBookConflictEnvelope(t *testing.T) {
	srv, _ := testServer(t)

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-1")); status != http.StatusCreated {
		t.Fatalf("first booking status = %d", status)
	}

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-2"))
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if env.Success {
		t.Fatal("conflict reported success = true")
	}
	if env.Error != "slot already booked" {
		t.Fatalf("error = %q", env.Error)
	}
}

func TestBookValidation(t *testing.T) {
	srv, _ := testServer(t)

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{}`, asClient("c-1"))
	if status != http.StatusBadRequest || env.Success {
		t.Fatalf("missing slot_id: status = %d, env = %+v", status, env)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`not json`, asClient("c-1"))
	if status != http.StatusBadRequest {
		t.Fatalf("bad json: status = %d, want 400", status)
	}

	// Booking on behalf of another client is forbidden for clients.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1","client_id":"c-2"}`, asClient("c-1"))
	if status != http.StatusForbidden {
		t.Fatalf("cross-client: status = %d, want 403", status)
	}
}

func TestConfirmFlow(t *testing.T) {
	srv, _ := testServer(t)

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-1"))
	var created struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}

	// Clients cannot decide.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/confirm",
		`{"appointment_id":"`+created.AppointmentID+`"}`, asClient("c-1"))
	if status != http.StatusForbidden {
		t.Fatalf("client confirm: status = %d, want 403", status)
	}

	status, env = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/confirm",
		`{"appointment_id":"`+created.AppointmentID+`"}`, asAdmin)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("admin confirm: status = %d, env = %+v", status, env)
	}
	var confirmed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &confirmed); err != nil {
		t.Fatal(err)
	}
	if confirmed.Status != "confirmed" {
		t.Fatalf("status = %s, want confirmed", confirmed.Status)
	}

	// The opposite decision now conflicts.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/reject",
		`{"appointment_id":"`+created.AppointmentID+`"}`, asAdmin)
	if status != http.StatusConflict {
		t.Fatalf("reject after confirm: status = %d, want 409", status)
	}
}

func TestListScopedToOwnClient(t *testing.T) {
	srv, _ := testServer(t)

	if _, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-1")); !env.Success {
		t.Fatalf("book failed: %q", env.Error)
	}

	// c-2 asking for c-1's appointments still only sees its own (none).
	status, env := doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments?client_id=c-1", "", asClient("c-2"))
	if status != http.StatusOK || !env.Success {
		t.Fatalf("list: status = %d, env = %+v", status, env)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil && string(env.Data) != "null" && string(env.Data) != "" {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("foreign client saw %d appointments", len(items))
	}

	status, env = doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments", "", asAdmin)
	if status != http.StatusOK {
		t.Fatalf("admin list: status = %d", status)
	}
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("admin saw %d appointments, want 1", len(items))
	}
}

func TestAppointmentVisibility(t *testing.T) {
	srv, _ := testServer(t)

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/appointments/book",
		`{"slot_id":"slot-1"}`, asClient("c-1"))
	var created struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments/get?id="+created.AppointmentID, "", asClient("c-1"))
	if status != http.StatusOK {
		t.Fatalf("owner get: status = %d", status)
	}

	// Strangers get 404, not 403.
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/appointments/get?id="+created.AppointmentID, "", asClient("c-2"))
	if status != http.StatusNotFound {
		t.Fatalf("stranger get: status = %d, want 404", status)
	}
}

func TestSlotEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/v1/slots/create",
		`{"type_tag":"massage","start_at":"2099-09-15T10:00:00Z","end_at":"2099-09-15T11:00:00Z"}`, asAdmin)
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("create slot: status = %d, env = %+v", status, env)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/slots/create",
		`{"type_tag":"massage","start_at":"2099-09-15T10:00:00Z","end_at":"2099-09-15T11:00:00Z"}`, asClient("c-1"))
	if status != http.StatusForbidden {
		t.Fatalf("client create slot: status = %d, want 403", status)
	}

	status, env = doJSON(t, http.MethodGet, srv.URL+"/api/v1/slots?free=true", "", asClient("c-1"))
	if status != http.StatusOK || !env.Success {
		t.Fatalf("list slots: status = %d", status)
	}
	var slots []struct {
		SlotID string `json:"slot_id"`
	}
	if err := json.Unmarshal(env.Data, &slots); err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 {
		t.Fatalf("free slots = %d, want 2", len(slots))
	}

	status, env = doJSON(t, http.MethodGet, srv.URL+"/api/v1/slot-types", "", asClient("c-1"))
	if status != http.StatusOK || !env.Success {
		t.Fatalf("slot types: status = %d", status)
	}
}
