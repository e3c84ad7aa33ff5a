package inference

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const (
	engineONNX = "onnx"

	defaultPoolSize       = 2
	defaultAcquireTimeout = 30 * time.Second
)

// The onnxruntime environment is process wide; engines share it.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return err
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// modelSession owns one session and its bound tensors. It is used by one
// goroutine at a time.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) destroy() {
	if m.session != nil {
		_ = m.session.Destroy()
	}
	if m.input != nil {
		_ = m.input.Destroy()
	}
	if m.output != nil {
		_ = m.output.Destroy()
	}
}

func newModelSession(modelPath string, inputSize, classes, threads int) (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	_ = options.SetIntraOpNumThreads(threads)
	_ = options.SetInterOpNumThreads(1)

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+classes), int64(anchorCount(inputSize))))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		options)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &modelSession{session: session, input: input, output: output}, nil
}

// sessionPool hands out sessions through a buffered channel.
type sessionPool struct {
	sessions chan *modelSession
	timeout  time.Duration
	mu       sync.Mutex
	closed   bool
}

func (p *sessionPool) acquire(ctx context.Context) (*modelSession, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return nil, fmt.Errorf("session pool is closed")
		}
		return s, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for an inference session after %s", p.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *sessionPool) release(s *modelSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.destroy()
		return
	}
	p.sessions <- s
}

func (p *sessionPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for s := range p.sessions {
		s.destroy()
	}
}

// ONNXEngine runs a YOLOv8 ONNX export in process.
type ONNXEngine struct {
	settings conf.ONNXSettings
	labels   []string
	pool     *sessionPool
	quality  int
	log      logger.Logger
}

// NewONNXEngine loads the model into settings.PoolSize sessions.
func NewONNXEngine(settings conf.ONNXSettings, quality int, log logger.Logger) (*ONNXEngine, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if settings.PoolSize <= 0 {
		settings.PoolSize = defaultPoolSize
	}
	if settings.AcquireTimeout <= 0 {
		settings.AcquireTimeout = defaultAcquireTimeout
	}

	labels, err := LoadLabels(settings.LabelsPath)
	if err != nil {
		return nil, errors.New(err).
			Component(componentInference).
			Category(errors.CategoryLabelLoad).
			Context("path", settings.LabelsPath).
			Build()
	}

	if err := acquireEnvironment(settings.LibraryPath); err != nil {
		return nil, errors.New(err).
			Component(componentInference).
			Category(errors.CategoryModelInit).
			Context("library_path", settings.LibraryPath).
			Build()
	}

	pool := &sessionPool{
		sessions: make(chan *modelSession, settings.PoolSize),
		timeout:  settings.AcquireTimeout,
	}
	threads := max(1, runtime.NumCPU()/settings.PoolSize)
	for i := range settings.PoolSize {
		s, err := newModelSession(settings.ModelPath, settings.InputSize, len(labels), threads)
		if err != nil {
			pool.close()
			releaseEnvironment()
			return nil, errors.New(err).
				Component(componentInference).
				Category(errors.CategoryModelLoad).
				Context("model_path", settings.ModelPath).
				Context("session", i).
				Build()
		}
		pool.sessions <- s
	}

	log.Info("onnx model loaded",
		logger.String("model", settings.ModelPath),
		logger.Int("sessions", settings.PoolSize),
		logger.Int("classes", len(labels)))
	return &ONNXEngine{settings: settings, labels: labels, pool: pool, quality: quality, log: log}, nil
}

// Run detects objects with one pooled session.
func (e *ONNXEngine) Run(ctx context.Context, imagePath, annotatedPath string) (*Output, error) {
	start := time.Now()

	img, err := openImage(imagePath)
	if err != nil {
		return nil, inferenceError(err, engineONNX, "decode", start)
	}

	cands, err := e.detect(ctx, img.Bounds().Dx(), img.Bounds().Dy(), func(dst []float32) {
		preprocess(img, e.settings.InputSize, dst)
	})
	if err != nil {
		return nil, inferenceError(err, engineONNX, "run", start)
	}
	detections := toDetections(nms(cands, e.settings.IoU), e.labels)

	if err := Annotate(img, detections, annotatedPath, e.quality); err != nil {
		return nil, inferenceError(err, engineONNX, "annotate", start)
	}

	e.log.Debug("onnx inference completed",
		logger.String("image", imagePath),
		logger.Int("detections", len(detections)),
		logger.Duration("duration", time.Since(start)))
	return &Output{Detections: detections, AnnotatedImage: annotatedPath}, nil
}

func (e *ONNXEngine) detect(ctx context.Context, srcW, srcH int, fill func([]float32)) ([]candidate, error) {
	s, err := e.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.release(s)

	fill(s.input.GetData())
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	return decodeOutput(s.output.GetData(), len(e.labels), anchorCount(e.settings.InputSize),
		e.settings.InputSize, srcW, srcH, float32(e.settings.Confidence))
}

// Close destroys idle sessions; sessions in use are destroyed on release.
func (e *ONNXEngine) Close() error {
	e.pool.close()
	releaseEnvironment()
	return nil
}
