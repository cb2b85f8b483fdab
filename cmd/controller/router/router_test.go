package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/control"
	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/storage"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

func testMux(t *testing.T) (*http.ServeMux, *control.Table, *envelope.Scorer, *storage.MemoryStore, *control.Switch) {
	t.Helper()

	table := control.NewTable()
	scorer := envelope.NewScorer()
	store := storage.NewMemoryStore(100)
	sw := control.NewSwitch(control.ModeAdvisory)

	return SetupRoutes(table, scorer, store, sw, slog.New(slog.NewTextHandler(io.Discard, nil))), table, scorer, store, sw
}

func seedTable(table *control.Table, entity string) {
	table.Update(entity, func(st *control.EntityState) {
		st.SmoothedDeviation = 1.2
		st.RawDeviation = 1.5
		st.Class = control.ClassNominal
		st.Metrics = map[string]float64{telemetry.MetricInletC: 24.5}
		st.UpdatedAt = time.Now().UTC()
	})
}

func TestRouter_Healthz(t *testing.T) {
	mux, _, _, _, _ := testMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRouter_StateSnapshot(t *testing.T) {
	mux, table, _, _, _ := testMux(t)
	seedTable(table, "rack-1")
	seedTable(table, "rack-2")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Racks []control.EntityState `json:"racks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Racks) != 2 {
		t.Fatalf("expected 2 racks, got %d", len(resp.Racks))
	}
	if resp.Racks[0].Entity != "rack-1" {
		t.Errorf("expected sorted output, first entity %q", resp.Racks[0].Entity)
	}
}

func TestRouter_StateSingleRack(t *testing.T) {
	mux, table, _, _, _ := testMux(t)
	seedTable(table, "rack-1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state?rack=rack-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state?rack=rack-9", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown rack, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state?rack=..%2Fetc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed rack id, got %d", rr.Code)
	}
}

func TestRouter_ActionsList(t *testing.T) {
	mux, _, _, store, _ := testMux(t)
	store.Append(httptest.NewRequest(http.MethodGet, "/", nil).Context(), actions.Record{
		ID: "a1", Timestamp: time.Now(), Entity: "rack-1",
		Kind: actions.KindFanDuty, Outcome: actions.OutcomeExecuted, Loop: "slow",
	})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/actions?rack=rack-1&limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Actions []actions.Record `json:"actions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].ID != "a1" {
		t.Errorf("unexpected actions: %+v", resp.Actions)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/actions?limit=bogus", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestRouter_ModelCurrent(t *testing.T) {
	mux, _, scorer, _, _ := testMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/model/current", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without model, got %d", rr.Code)
	}

	scorer.Swap(&envelope.Model{
		ID:         "m1",
		Features:   []string{telemetry.MetricInletC},
		Means:      []float64{24},
		Stds:       []float64{1},
		Centroids:  [][]float64{{0}},
		TauFast:    2.2,
		TauPersist: 3.0,
	})

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/model/current", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with model, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] != "m1" {
		t.Errorf("expected model id m1, got %v", resp["id"])
	}
	if resp["tauFast"] != 2.2 {
		t.Errorf("expected tauFast 2.2, got %v", resp["tauFast"])
	}
}

func TestRouter_ModeGetAndPost(t *testing.T) {
	mux, _, _, _, sw := testMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mode", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	body := bytes.NewBufferString(`{"mode":"closed_loop","kill_switch":true}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mode", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if sw.Mode() != control.ModeClosedLoop {
		t.Errorf("mode not changed, got %s", sw.Mode())
	}
	if !sw.KillSwitch() {
		t.Error("kill switch not engaged")
	}
	if sw.Dispatchable() {
		t.Error("kill switch engaged but still dispatchable")
	}
}

func TestRouter_ModePartialUpdate(t *testing.T) {
	mux, _, _, _, sw := testMux(t)
	sw.SetKillSwitch(true)

	body := bytes.NewBufferString(`{"mode":"closed_loop"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mode", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if !sw.KillSwitch() {
		t.Error("omitted kill_switch field must keep its value")
	}
}

func TestRouter_ModeRejectsInvalid(t *testing.T) {
	mux, _, _, _, sw := testMux(t)

	body := bytes.NewBufferString(`{"mode":"yolo"}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mode", body))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid mode, got %d", rr.Code)
	}
	if sw.Mode() != control.ModeAdvisory {
		t.Errorf("invalid request changed the mode to %s", sw.Mode())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mode", bytes.NewBufferString(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty body, got %d", rr.Code)
	}
}
