package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hls-ftp-relay/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *testRig) {
	t.Helper()
	rig := newTestRig()
	svc := NewService(newTestRegistry(t, rig))
	h := NewHandler(svc, logger.Discard())
	r := chi.NewRouter()
	h.Mount(r)
	return r, rig
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

var validStartBody = map[string]string{
	"m3u8_url": testManifestURL,
	"ftp_host": "ftp.example.com",
	"ftp_user": "user",
	"ftp_pass": "secret",
	"ftp_path": "/live",
}

func TestHandler_StartStream(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(r, http.MethodPost, "/start_stream", validStartBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "Stream processing started" {
		t.Errorf("unexpected status: %v", body["status"])
	}
	if id, _ := body["stream_id"].(string); id == "" {
		t.Error("expected stream_id")
	}
}

func TestHandler_StartStream_missing_fields(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(r, http.MethodPost, "/start_stream", map[string]string{"m3u8_url": testManifestURL})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Missing required fields" {
		t.Errorf("unexpected error: %v", body["error"])
	}
}

func TestHandler_StartStream_bad_url(t *testing.T) {
	r, _ := newTestRouter(t)

	b := map[string]string{}
	for k, v := range validStartBody {
		b[k] = v
	}
	b["m3u8_url"] = "not a url"
	rec := doJSON(r, http.MethodPost, "/start_stream", b)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "m3u8_url") {
		t.Errorf("expected error to name m3u8_url: %q", msg)
	}
}

func TestHandler_StartStream_invalid_json(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(r, http.MethodPost, "/start_stream", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_StopStream_not_found(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(r, http.MethodPost, "/stop_stream", map[string]string{"stream_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Stream not found" {
		t.Errorf("unexpected error: %v", body["error"])
	}
}

func TestHandler_StopStream_missing_id(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(r, http.MethodPost, "/stop_stream", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_start_stop_lifecycle(t *testing.T) {
	r, rig := newTestRouter(t)
	rig.manifests.set(2, "s1.ts", "s2.ts")

	rec := doJSON(r, http.MethodPost, "/start_stream", validStartBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rec.Code)
	}
	id := decodeBody(t, rec)["stream_id"].(string)

	rec = doJSON(r, http.MethodGet, "/streams/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["stream_id"]; got != id {
		t.Errorf("get: unexpected stream_id %v", got)
	}

	rec = doJSON(r, http.MethodGet, "/streams", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/stop_stream", map[string]string{"stream_id": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "Stream stopped" {
		t.Errorf("stop: unexpected status %v", body["status"])
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doJSON(r, http.MethodPost, "/stop_stream", map[string]string{"stream_id": id})
		if rec.Code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream still registered after stop, last status %d", rec.Code)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = doJSON(r, http.MethodGet, "/streams/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after stop: expected 404, got %d", rec.Code)
	}
}
