package restclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xReLogic/restecho/internal/echo"
)

func TestClient_PostToEchoHandler(t *testing.T) {
	srv := httptest.NewServer(echo.NewHandler(0))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Post(context.Background(), echo.Route, []byte(`{"msg":"hello"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"msg":"hello"}`, string(resp.Body))
}

func TestClient_SendsJSONHeaders(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	resp, err := c.Post(context.Background(), "/a1-p/policies", []byte(`[1]`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/a1-p/policies", got.URL.Path, "trailing slash on the base URL is trimmed")
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `[1]`, string(gotBody))
}

func TestClient_GetReturnsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		http.Error(w, `{"error":"missing"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Get(context.Background(), "/v1/nodeb/states")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "missing")
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Get(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to complete the request")
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Post(context.Background(), echo.Route, []byte(`{}`))
	assert.Error(t, err)
}

func TestWithHTTPClient_LeavesCallerClientUntouched(t *testing.T) {
	transport := &http.Transport{}
	hc := &http.Client{Timeout: time.Minute, Transport: transport}

	c := New("http://127.0.0.1:1", WithHTTPClient(hc), WithTimeout(time.Second), WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))

	assert.Equal(t, time.Minute, hc.Timeout)
	assert.Same(t, transport, hc.Transport)
	assert.Nil(t, transport.TLSClientConfig)

	assert.NotSame(t, hc, c.httpClient)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
	assert.NotSame(t, transport, c.httpClient.Transport)
}
