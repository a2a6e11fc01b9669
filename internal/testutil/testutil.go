// Package testutil provides shared test fixtures for the HTTP, gRPC and
// command packages.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/banshee-data/slamframe/internal/slam/posedb"
	"github.com/banshee-data/slamframe/internal/slam/source"
)

// LoopbackAddr is the RemoteAddr of requests built by NewLoopbackRequest.
// Debug pages only answer loopback callers.
const LoopbackAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewLoopbackRequest creates a test HTTP request from a loopback address.
func NewLoopbackRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// DecodeJSON decodes the recorded response body into v.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// OpenTempDB opens a migrated pose database under t.TempDir and closes it
// when the test ends.
func OpenTempDB(t testing.TB) *posedb.DB {
	t.Helper()
	db, err := posedb.Open(filepath.Join(t.TempDir(), "slam.db"))
	if err != nil {
		t.Fatalf("open pose database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteScene exports a synthetic sequence of n frames to dir/name and
// returns the sequence directory and its pose feed path.
func WriteScene(t testing.TB, dir, name string, n int) (seqDir, feedPath string) {
	t.Helper()
	seqDir = filepath.Join(dir, name)
	feedPath, err := source.ExportSynthetic(seqDir, source.DefaultSyntheticConfig(n))
	if err != nil {
		t.Fatalf("export synthetic scene %s: %v", name, err)
	}
	return seqDir, feedPath
}
