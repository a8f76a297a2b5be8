package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/utils"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUpstream struct {
	lock         sync.Mutex
	valid        string
	rotated      string
	refreshCalls atomic.Int32
	headers      []http.Header
}

func (u *testUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		u.refreshCalls.Add(1)
		if u.rotated == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u.lock.Lock()
		u.valid = u.rotated
		u.lock.Unlock()
		fmt.Fprintf(w, `{"access_token":%q}`, u.rotated)
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		u.lock.Lock()
		u.headers = append(u.headers, r.Header.Clone())
		valid := u.valid
		u.lock.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "data")
	})
	return mux
}

func testToken(t *testing.T, expiresAt time.Time) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func setupTestProxy(t *testing.T, upstream *testUpstream) *httptest.Server {
	upstreamServer := httptest.NewServer(upstream.handler())
	t.Cleanup(upstreamServer.Close)
	baseURL, err := url.Parse(upstreamServer.URL)
	require.NoError(t, err)
	cfg := config.Config{
		RunningEnvironment: config.Development,
		Client: config.ClientConfig{
			BaseURL:        baseURL,
			RefreshPath:    "/auth/refresh",
			AuthEndpoints:  []string{"/auth/refresh"},
			RequestTimeout: 5 * time.Second,
			Refresh: config.RefreshConfig{
				Timeout:           5 * time.Second,
				TransientCooldown: 30 * time.Second,
				TerminalCooldown:  30 * time.Second,
			},
		},
		Mirror: config.MirrorConfig{
			Cookie: config.CookieMirrorConfig{
				Enabled:              true,
				AccessCookieName:     "access_token",
				RefreshIndicatorName: "has_refresh_token",
				RefreshIndicatorTTL:  time.Hour,
			},
		},
	}
	e, _, err := setupServer(cfg)
	require.NoError(t, err)
	proxy := httptest.NewServer(e)
	t.Cleanup(proxy.Close)
	return proxy
}

func postSession(t *testing.T, proxyURL string, accessToken, refreshToken string) *http.Response {
	body := fmt.Sprintf(`{"accessToken":%q,"refreshToken":%q}`, accessToken, refreshToken)
	resp, err := http.Post(proxyURL+"/session", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	proxy := setupTestProxy(t, &testUpstream{})
	resp, err := http.Get(proxy.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	proxy := setupTestProxy(t, &testUpstream{})
	token := testToken(t, time.Now().Add(time.Hour))

	resp := postSession(t, proxy.URL, token, "refresh")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Authenticated)
	assert.True(t, state.HasRefreshCredential)
	require.NotNil(t, state.ExpiresAt)
	access := findCookie(resp, "access_token")
	require.NotNil(t, access)
	assert.Equal(t, token, access.Value)
	assert.NotNil(t, findCookie(resp, "has_refresh_token"))

	req, err := http.NewRequest(http.MethodDelete, proxy.URL+"/session", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	access = findCookie(resp, "access_token")
	require.NotNil(t, access)
	assert.True(t, access.MaxAge < 0)

	resp, err = http.Get(proxy.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	state = sessionResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.False(t, state.Authenticated)
	assert.False(t, state.HasRefreshCredential)
}

func TestPostSessionRequiresAccessToken(t *testing.T) {
	proxy := setupTestProxy(t, &testUpstream{})
	resp := postSession(t, proxy.URL, "", "refresh")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProxyAttachesClientCredential(t *testing.T) {
	token := testToken(t, time.Now().Add(time.Hour))
	upstream := &testUpstream{valid: token}
	proxy := setupTestProxy(t, upstream)
	postSession(t, proxy.URL, token, "refresh").Body.Close()

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer from-the-browser")
	req.Header.Set("Cookie", "access_token=from-the-browser")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data", string(body))
	require.Len(t, upstream.headers, 1)
	assert.Equal(t, "Bearer "+token, upstream.headers[0].Get("Authorization"))
	assert.Empty(t, upstream.headers[0].Get("Cookie"))
	assert.Equal(t, resp.Header.Get(utils.RequestIDHeader), upstream.headers[0].Get(utils.RequestIDHeader))
}

func TestProxyRefreshesOnUnauthorized(t *testing.T) {
	rotated := testToken(t, time.Now().Add(time.Hour))
	upstream := &testUpstream{valid: "something-else", rotated: rotated}
	proxy := setupTestProxy(t, upstream)
	postSession(t, proxy.URL, testToken(t, time.Now().Add(time.Minute)), "refresh").Body.Close()

	resp, err := http.Get(proxy.URL + "/api/data")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), upstream.refreshCalls.Load())
	assert.Len(t, upstream.headers, 2)
}

func TestRefreshEndpoint(t *testing.T) {
	upstream := &testUpstream{}
	proxy := setupTestProxy(t, upstream)

	resp, err := http.Post(proxy.URL+"/session/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), upstream.refreshCalls.Load())

	postSession(t, proxy.URL, "opaque", "refresh").Body.Close()
	resp, err = http.Post(proxy.URL+"/session/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), upstream.refreshCalls.Load())

	postSession(t, proxy.URL, "opaque", "refresh").Body.Close()
	resp, err = http.Post(proxy.URL+"/session/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), upstream.refreshCalls.Load())
}
