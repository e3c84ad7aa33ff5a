package httpclient

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, "yolo-service/1.0.1", client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		client := New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		client := New(&Config{})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.NotEmpty(t, client.userAgent)
	})
}

func TestDo_BasicRequest(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("success"))
	})
	client := newTestClient(t)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
}

func TestDo_UserAgent(t *testing.T) {
	var receivedUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
	})
	client := newTestClientWithConfig(t, &Config{UserAgent: "CustomAgent/2.0"})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, "CustomAgent/2.0", receivedUA)
}

func TestDo_ContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	defer closeResponseBody(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	resp, err := client.Get(context.Background(), server.URL)
	defer closeResponseBody(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_BodyReadableAfterReturn(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: time.Second})

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "default deadline must not cancel the body read")
	assert.Equal(t, "payload", string(body))
}

func TestDo_Hooks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	client := newTestClient(t)

	var before atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			resp, err := client.Get(t.Context(), server.URL)
			if assert.NoError(t, err) {
				closeResponseBody(t, resp)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(5), before.Load())
	assert.Equal(t, int32(http.StatusAccepted), status.Load())
}

func TestPostJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://predict.local/predict",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"image_name":"a.jpg"}`, string(body))
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})
	client := newTestClientWithConfig(t, &Config{Transport: transport})

	resp, err := client.PostJSON(t.Context(), "http://predict.local/predict", map[string]string{"image_name": "a.jpg"})
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestPostFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://infer.local/detect",
		func(req *http.Request) (*http.Response, error) {
			f, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			data, _ := io.ReadAll(f)
			assert.Equal(t, "cat.jpg", header.Filename)
			assert.Equal(t, "jpeg", string(data))
			return httpmock.NewStringResponse(http.StatusOK, `{"detections":[]}`), nil
		})
	client := newTestClientWithConfig(t, &Config{Transport: transport})

	resp, err := client.PostFile(t.Context(), "http://infer.local/detect", "file", path)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = client.PostFile(t.Context(), "http://infer.local/detect", "file", filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}
