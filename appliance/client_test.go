package appliance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVMstore struct {
	loginStatus int
	setCookie   bool
	infoStatus  int
	statsStatus int
	info        string
	stats       string
	gotLogin    loginRequest
	gotCookies  []string
}

func newFakeVMstore() *fakeVMstore {
	return &fakeVMstore{
		loginStatus: http.StatusOK,
		setCookie:   true,
		infoStatus:  http.StatusOK,
		statsStatus: http.StatusOK,
		info:        `{"modelName":"T880","serialNumber":"SN1","vmsCount":1}`,
		stats:       `{"spaceTotalGiB":1000,"vmsCount":42}`,
	}
}

func (f *fakeVMstore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPath:
		_ = json.NewDecoder(r.Body).Decode(&f.gotLogin)
		if f.setCookie {
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "abc123"})
		}
		w.WriteHeader(f.loginStatus)
	case deviceInfoPath:
		f.gotCookies = append(f.gotCookies, r.Header.Get("Cookie"))
		w.WriteHeader(f.infoStatus)
		_, _ = w.Write([]byte(f.info))
	case statsPath:
		f.gotCookies = append(f.gotCookies, r.Header.Get("Cookie"))
		w.WriteHeader(f.statsStatus)
		_, _ = w.Write([]byte(f.stats))
	default:
		http.NotFound(w, r)
	}
}

func startVMstore(t *testing.T, f *fakeVMstore) string {
	t.Helper()
	ts := httptest.NewTLSServer(f)
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "https://")
}

func TestLogin_Success(t *testing.T) {
	f := newFakeVMstore()
	target := startVMstore(t, f)

	s, err := NewClient().Login(context.Background(), target, Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, Session{Target: target, ID: "abc123"}, s)

	assert.Equal(t, "admin", f.gotLogin.Username)
	assert.Equal(t, "secret", f.gotLogin.Password)
	assert.Equal(t, credentialsType, f.gotLogin.TypeID)
	assert.Nil(t, f.gotLogin.NewPassword)
	assert.Nil(t, f.gotLogin.Roles)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*fakeVMstore)
		wantStatus int
		wantErr    error
	}{
		{
			name:       "unauthorized",
			mutate:     func(f *fakeVMstore) { f.loginStatus = http.StatusUnauthorized; f.setCookie = false },
			wantStatus: http.StatusUnauthorized,
			wantErr:    ErrUnexpectedStatus,
		},
		{
			name:       "missing cookie",
			mutate:     func(f *fakeVMstore) { f.setCookie = false },
			wantStatus: http.StatusOK,
			wantErr:    ErrNoSession,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeVMstore()
			tt.mutate(f)
			target := startVMstore(t, f)

			_, err := NewClient().Login(context.Background(), target, Credentials{})
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, tt.wantStatus, authErr.StatusCode)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLogin_ConnectionError(t *testing.T) {
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	target := strings.TrimPrefix(ts.URL, "https://")
	ts.Close()

	_, err := NewClient(WithTimeout(2*time.Second)).Login(context.Background(), target, Credentials{})
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, authErr.StatusCode)
}

func TestSnapshot_MergesWithStatsWinning(t *testing.T) {
	f := newFakeVMstore()
	target := startVMstore(t, f)

	s := Session{Target: target, ID: "abc123"}
	snap, err := NewClient().Snapshot(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, target, snap.Target)
	assert.Equal(t, "T880", snap.Fields["modelName"])
	assert.Equal(t, json.Number("42"), snap.Fields["vmsCount"])
	assert.Equal(t, json.Number("1000"), snap.Fields["spaceTotalGiB"])
	assert.Equal(t, []string{"JSESSIONID=abc123", "JSESSIONID=abc123"}, f.gotCookies)
}

func TestSnapshot_FetchFailures(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*fakeVMstore)
		wantResource string
	}{
		{"info status", func(f *fakeVMstore) { f.infoStatus = http.StatusInternalServerError }, "device info"},
		{"stats status", func(f *fakeVMstore) { f.statsStatus = http.StatusForbidden }, "stats summary"},
		{"stats not an object", func(f *fakeVMstore) { f.stats = `[1,2]` }, "stats summary"},
		{"info null", func(f *fakeVMstore) { f.info = `null` }, "device info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeVMstore()
			tt.mutate(f)
			target := startVMstore(t, f)

			_, err := NewClient().Snapshot(context.Background(), Session{Target: target, ID: "x"})
			var fetchErr *FetchError
			require.True(t, errors.As(err, &fetchErr), "got %v", err)
			assert.Equal(t, tt.wantResource, fetchErr.Resource)
		})
	}
}

func TestMerge(t *testing.T) {
	info := Fields{"a": 1, "shared": "info"}
	stats := Fields{"b": 2, "shared": "stats"}

	merged := Merge(info, stats)
	assert.Equal(t, Fields{"a": 1, "b": 2, "shared": "stats"}, merged)
	assert.Equal(t, "info", info["shared"])
}
