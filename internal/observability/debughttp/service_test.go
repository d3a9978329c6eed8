package debughttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pewsched/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerServesStatusAndProfiles(t *testing.T) {
	t.Parallel()
	s := New(Config{Prefix: "prof"}, func() any { return map[string]string{"state": "READY"} }, logx.Nop())
	h := s.Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"state":"READY"}`, rec.Body.String())

	rec = get(t, h, "/prof/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = get(t, h, "/prof")
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/prof/", rec.Header().Get("Location"))
}

func TestHandlerRequiresToken(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, func() any { return 1 }, logx.Nop()).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/status").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/status?token=nope").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/status?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "Authorization", "Basic s3cret").Code)
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	assert.ErrorIs(t, s.Start(t.Context()), ErrInsecureBind)
	assert.Empty(t, s.Addr())
}

func TestStartServesUntilStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, func() any { return "up" }, logx.Nop())
	require.NoError(t, s.Start(t.Context()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `"up"`, string(body))

	require.NoError(t, s.Stop(t.Context()))
	assert.Empty(t, s.Addr())
	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.2:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
