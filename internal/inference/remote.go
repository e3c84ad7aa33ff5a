package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/polybot/yolo-service/internal/httpclient"
	"github.com/polybot/yolo-service/internal/logger"
)

const (
	engineRemote = "remote"

	// maxResponseBytes bounds the detection payload read from the server.
	maxResponseBytes = 4 << 20
)

// RemoteEngine posts images to an HTTP detection server and draws the
// returned boxes locally.
type RemoteEngine struct {
	client  *httpclient.Client
	url     string
	quality int
	log     logger.Logger
}

type remoteResponse struct {
	Detections []Detection `json:"detections"`
}

// NewRemoteEngine creates an engine posting to url.
func NewRemoteEngine(client *httpclient.Client, url string, quality int, log logger.Logger) *RemoteEngine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RemoteEngine{client: client, url: url, quality: quality, log: log}
}

// Run uploads imagePath as the multipart field "file".
func (e *RemoteEngine) Run(ctx context.Context, imagePath, annotatedPath string) (*Output, error) {
	start := time.Now()

	img, err := openImage(imagePath)
	if err != nil {
		return nil, inferenceError(err, engineRemote, "decode", start)
	}

	resp, err := e.client.PostFile(ctx, e.url, "file", imagePath)
	if err != nil {
		return nil, inferenceError(err, engineRemote, "request", start)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, inferenceError(err, engineRemote, "read_response", start)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, inferenceError(
			fmt.Errorf("detection server returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			engineRemote, "request", start)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, inferenceError(fmt.Errorf("decode detections: %w", err), engineRemote, "decode_response", start)
	}

	detections := make([]Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		if d.Label == "" || math.IsNaN(d.Score) {
			e.log.Warn("dropping malformed detection", logger.Any("detection", d))
			continue
		}
		d.Score = clamp01(d.Score)
		detections = append(detections, d)
	}

	if err := Annotate(img, detections, annotatedPath, e.quality); err != nil {
		return nil, inferenceError(err, engineRemote, "annotate", start)
	}

	e.log.Debug("remote inference completed",
		logger.String("image", imagePath),
		logger.Int("detections", len(detections)),
		logger.Duration("duration", time.Since(start)))
	return &Output{Detections: detections, AnnotatedImage: annotatedPath}, nil
}

// Close releases idle connections.
func (e *RemoteEngine) Close() error {
	e.client.Close()
	return nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
