package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func releaseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCheckNewerRelease(t *testing.T) {
	ts := releaseServer(t, `{"tag_name":"v1.2.0","body":"Security fix for key handling"}`)

	rel, err := Check(context.Background(), ts.URL, "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rel.Newer || rel.Version != "1.2.0" {
		t.Fatalf("expected 1.2.0 to be newer, got %+v", rel)
	}
	if !rel.Security() {
		t.Fatal("expected security release")
	}
}

func TestCheckCurrentRelease(t *testing.T) {
	ts := releaseServer(t, `{"tag_name":"v1.2.0","body":""}`)

	for _, current := range []string{"1.2.0", "v1.2.0", "dev"} {
		rel, err := Check(context.Background(), ts.URL, current)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rel.Newer {
			t.Fatalf("did not expect update for %s", current)
		}
	}
}

func TestCheckBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	if _, err := Check(context.Background(), ts.URL, "1.0.0"); err == nil {
		t.Fatal("expected error for 404")
	}
}
