package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/httpclient"
)

const predictURL = "http://yolo.local/predict"

func newMockedProcessor(t *testing.T) (*RemoteProcessor, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)
	return NewRemoteProcessor(client, predictURL), transport
}

func TestRemoteProcessorSuccess(t *testing.T) {
	t.Parallel()
	p, transport := newMockedProcessor(t)

	transport.RegisterResponder(http.MethodPost, predictURL, func(req *http.Request) (*http.Response, error) {
		var got Request
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		if got != validRequest {
			return httpmock.NewStringResponse(http.StatusBadRequest, "unexpected body"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, Result{
			UID:            "u1",
			DetectionCount: 1,
			Labels:         []string{"cat"},
			PredictedKey:   "predicted/file_71_predicted.jpg",
		})
	})

	result, err := p.Process(context.Background(), validRequest)
	require.NoError(t, err)
	assert.Equal(t, "u1", result.UID)
	assert.Equal(t, []string{"cat"}, result.Labels)
	assert.Equal(t, "predicted/file_71_predicted.jpg", result.PredictedKey)
}

func TestRemoteProcessorFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		responder  httpmock.Responder
		validation bool
		contains   string
	}{
		{
			name:       "bad request",
			responder:  httpmock.NewStringResponder(http.StatusBadRequest, `{"error":"bad_request","message":"missing required fields: image_name"}`),
			validation: true,
			contains:   "missing required fields",
		},
		{
			name:      "server error",
			responder: httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"prediction_failed","message":"fetch: boom"}`),
			contains:  "remote returned 500: fetch: boom",
		},
		{
			name:      "plain text error",
			responder: httpmock.NewStringResponder(http.StatusBadGateway, "upstream gone"),
			contains:  "upstream gone",
		},
		{
			name:      "invalid json",
			responder: httpmock.NewStringResponder(http.StatusOK, "not json"),
			contains:  "decode remote result",
		},
		{
			name:      "connection error",
			responder: httpmock.NewErrorResponder(assert.AnError),
			contains:  assert.AnError.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, transport := newMockedProcessor(t)
			transport.RegisterResponder(http.MethodPost, predictURL, tt.responder)

			_, err := p.Process(context.Background(), validRequest)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.validation, IsValidation(err))

			var pe *PipelineError
			require.ErrorAs(t, err, &pe)
			if !tt.validation {
				assert.Equal(t, StepRemote, pe.Step)
				assert.Equal(t, KindTransport, pe.Kind)
			}
		})
	}
}
