package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/polybot/yolo-service/internal/httpclient"
)

// maxRemoteResponse bounds the result body read from a remote instance.
const maxRemoteResponse = 1 << 20

// RemoteProcessor posts requests to the /predict endpoint of another
// instance. A 400 answer becomes a validation failure so the caller does not
// retry it; other failures are transport errors.
type RemoteProcessor struct {
	client *httpclient.Client
	url    string
}

// NewRemoteProcessor creates a processor posting to url.
func NewRemoteProcessor(client *httpclient.Client, url string) *RemoteProcessor {
	return &RemoteProcessor{client: client, url: url}
}

// Process implements Processor.
func (p *RemoteProcessor) Process(ctx context.Context, req Request) (*Result, error) {
	resp, err := p.client.PostJSON(ctx, p.url, req)
	if err != nil {
		return nil, newPipelineError(StepRemote, KindTransport, err, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, newPipelineError(StepRemote, KindTransport, err, "")
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &PipelineError{
			Step: StepValidate,
			Kind: KindValidation,
			Err:  fmt.Errorf("remote rejected request: %s", remoteDetail(body)),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, newPipelineError(StepRemote, KindTransport,
			fmt.Errorf("remote returned %d: %s", resp.StatusCode, remoteDetail(body)), "")
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newPipelineError(StepRemote, KindTransport, fmt.Errorf("decode remote result: %w", err), "")
	}
	return &result, nil
}

// remoteDetail extracts the error message of an api.ErrorResponse body.
func remoteDetail(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
