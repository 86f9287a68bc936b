package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/duet/pkg/agenda"
	"github.com/harrisonrobin/duet/pkg/cursor"
	"github.com/harrisonrobin/duet/pkg/grid"
	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
	"github.com/harrisonrobin/duet/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "duet.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	session := agenda.New(st, agenda.Options{Start: cursor.Cursor{Year: 2024, Month: 0}})
	return New(session), st
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeFrame(t *testing.T, w *httptest.ResponseRecorder) agenda.Frame {
	t.Helper()
	var f agenda.Frame
	if err := json.Unmarshal(w.Body.Bytes(), &f); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return f
}

func TestGrid(t *testing.T) {
	s, st := newTestServer(t)
	if _, err := st.Insert(context.Background(), model.Task{ID: "t1", Title: "Rent", DateISO: "2024-03-01", Priority: model.PriorityHigh}); err != nil {
		t.Fatal(err)
	}

	w := do(t, s, http.MethodGet, "/api/grid?year=2024&month=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	f := decodeFrame(t, w)
	if len(f.Cells) != grid.CellCount || f.Label != "March 2024" || f.Stale {
		t.Fatalf("Unexpected frame %q with %d cells stale=%v", f.Label, len(f.Cells), f.Stale)
	}
	found := false
	for _, c := range f.Cells {
		if c.Date == "2024-03-01" {
			found = len(c.Tasks) == 1 && c.Summary.Glyph == model.PlaceholderEmoji
		}
	}
	if !found {
		t.Errorf("Expected the rent task on March 1")
	}

	if w := do(t, s, http.MethodGet, "/api/grid?month=12", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for month 12, got %d", w.Code)
	}
}

func TestNavigation(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/swipe", swipeRequest{Velocity: 800})
	var resp swipeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Direction != "previous" || resp.Frame.Label != "December 2023" {
		t.Errorf("Expected previous to December 2023, got %s %s", resp.Direction, resp.Frame.Label)
	}

	w = do(t, s, http.MethodPost, "/api/advance", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Frame.Label != "January 2024" {
		t.Errorf("Expected January 2024, got %s", resp.Frame.Label)
	}

	w = do(t, s, http.MethodPost, "/api/swipe", swipeRequest{Velocity: 10, Translation: 10})
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Direction != "none" || resp.Frame.Label != "January 2024" {
		t.Errorf("Expected no movement, got %s %s", resp.Direction, resp.Frame.Label)
	}
}

func TestTap(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/tap", gin.H{"index": 0})
	var got map[string]string
	json.Unmarshal(w.Body.Bytes(), &got)
	if w.Code != http.StatusOK || got["date"] != "2023-12-31" {
		t.Errorf("Expected 2023-12-31, got %d %v", w.Code, got)
	}
	if w := do(t, s, http.MethodPost, "/api/tap", gin.H{"index": 42}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for index 42, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/tap", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without an index, got %d", w.Code)
	}
}

func TestMutations(t *testing.T) {
	s, st := newTestServer(t)
	if _, err := st.Insert(context.Background(), model.Task{ID: "t1", Title: "Bins", DateISO: "2024-01-08", Priority: model.PriorityNormal}); err != nil {
		t.Fatal(err)
	}

	w := do(t, s, http.MethodPost, "/api/tasks/t1/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	for _, c := range decodeFrame(t, w).Cells {
		if c.Date == "2024-01-08" && (len(c.Tasks) != 1 || !c.Tasks[0].IsCompleted) {
			t.Errorf("Expected the toggled task to render completed, got %+v", c.Tasks)
		}
	}

	w = do(t, s, http.MethodPut, "/api/tasks/t1/steps", stepsRequest{Steps: []model.Step{{ID: "a", Title: "Green bin"}}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	for _, c := range decodeFrame(t, w).Cells {
		if c.Date == "2024-01-08" && len(c.Tasks[0].Steps) != 1 {
			t.Errorf("Expected one step, got %+v", c.Tasks[0].Steps)
		}
	}

	if w := do(t, s, http.MethodPost, "/api/tasks/missing/toggle", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

type brokenSource struct{}

func (brokenSource) Fetch(ctx context.Context, from, to string) ([]normalize.Record, error) {
	return nil, errors.New("backend down")
}

func TestGridWhenFetchFails(t *testing.T) {
	s := New(agenda.New(brokenSource{}, agenda.Options{Start: cursor.Cursor{Year: 2024, Month: 0}}))
	w := do(t, s, http.MethodGet, "/api/grid", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 even when the fetch fails, got %d", w.Code)
	}
	f := decodeFrame(t, w)
	if !f.Stale || len(f.Cells) != grid.CellCount {
		t.Errorf("Expected a stale 42-cell frame, got stale=%v cells=%d", f.Stale, len(f.Cells))
	}
	if w := do(t, s, http.MethodPost, "/api/tasks/x/toggle", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for a read-only source, got %d", w.Code)
	}
}
