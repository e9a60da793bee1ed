package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Mutex

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// ONNXBackend runs an exported YOLO model through onnxruntime. A session and
// its tensors are not safe for concurrent use, so each Infer call checks one
// out of a fixed pool.
type ONNXBackend struct {
	modelPath  string
	libPath    string
	inputSize  int
	workers    int
	numClasses int

	inputName  string
	outputName string
	anchors    int

	pool      chan *onnxSession
	sessions  []*onnxSession
	closeOnce sync.Once
	closeErr  error
}

func NewONNX(modelPath, libPath string, inputSize, workers, numClasses int) *ONNXBackend {
	return &ONNXBackend{
		modelPath:  modelPath,
		libPath:    libPath,
		inputSize:  inputSize,
		workers:    max(workers, 1),
		numClasses: numClasses,
	}
}

func (b *ONNXBackend) Name() string {
	return "onnx"
}

func (b *ONNXBackend) Load(_ context.Context) error {
	if _, err := os.Stat(b.modelPath); err != nil {
		return fmt.Errorf("model file not found at %s: %w", b.modelPath, err)
	}

	ortInit.Lock()
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(b.libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortInit.Unlock()
			return fmt.Errorf("initialize onnxruntime from %s: %w", b.libPath, err)
		}
	}
	ortInit.Unlock()

	inputs, outputs, err := ort.GetInputOutputInfo(b.modelPath)
	if err != nil {
		return fmt.Errorf("read model io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("expected one input and one output, model has %d and %d", len(inputs), len(outputs))
	}
	b.inputName = inputs[0].Name
	b.outputName = outputs[0].Name

	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 {
		b.inputSize = int(dims[2])
	}
	dims := outputs[0].Dimensions
	if len(dims) != 3 {
		return fmt.Errorf("unexpected output shape %v", dims)
	}
	if features := int(dims[1]); features != 4+b.numClasses {
		return fmt.Errorf("model reports %d classes, vocabulary has %d", features-4, b.numClasses)
	}
	b.anchors = int(dims[2])
	if b.anchors <= 0 {
		b.anchors = anchorCount(b.inputSize)
	}

	b.pool = make(chan *onnxSession, b.workers)
	for i := 0; i < b.workers; i++ {
		s, err := b.newSession()
		if err != nil {
			b.Close()
			return fmt.Errorf("create model session %d: %w", i, err)
		}
		b.sessions = append(b.sessions, s)
		b.pool <- s
	}

	slog.Info("ONNX sessions ready", "sessions", b.workers, "input", b.inputName, "output", b.outputName,
		"input_size", b.inputSize, "anchors", b.anchors)
	return nil
}

func (b *ONNXBackend) newSession() (*onnxSession, error) {
	s := &onnxSession{}
	var err error

	size := int64(b.inputSize)
	s.input, err = ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, err
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+b.numClasses), int64(b.anchors)))
	if err != nil {
		s.destroy()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.destroy()
		return nil, err
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(1); err != nil {
		s.destroy()
		return nil, err
	}

	s.session, err = ort.NewAdvancedSession(b.modelPath,
		[]string{b.inputName}, []string{b.outputName},
		[]ort.Value{s.input}, []ort.Value{s.output}, options)
	if err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

func (b *ONNXBackend) Infer(ctx context.Context, frame Frame, th Thresholds) (Output, error) {
	if b.pool == nil {
		return Output{}, errors.New("onnx backend not loaded")
	}

	var s *onnxSession
	select {
	case got, ok := <-b.pool:
		if !ok {
			return Output{}, errors.New("onnx backend closed")
		}
		s = got
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	defer func() { b.pool <- s }()

	fillInput(s.input.GetData(), frame.Image, b.inputSize)
	if err := s.session.Run(); err != nil {
		return Output{}, fmt.Errorf("run session: %w", err)
	}

	bounds := frame.Image.Bounds()
	sx := float64(bounds.Dx()) / float64(b.inputSize)
	sy := float64(bounds.Dy()) / float64(b.inputSize)
	cands := decodeYOLO(s.output.GetData(), b.numClasses, b.anchors, th.Confidence, sx, sy)
	return toOutput(nonMaxSuppression(cands, th.IoU)), nil
}

// Close waits for every pooled session to be returned before freeing it.
// Infer calls that arrive afterwards fail instead of blocking.
func (b *ONNXBackend) Close() error {
	b.closeOnce.Do(func() {
		if b.pool != nil {
			for range b.sessions {
				<-b.pool
			}
			close(b.pool)
		}
		for _, s := range b.sessions {
			s.destroy()
		}
		b.sessions = nil

		ortInit.Lock()
		defer ortInit.Unlock()
		if ort.IsInitialized() {
			b.closeErr = ort.DestroyEnvironment()
		}
	})
	return b.closeErr
}

// anchorCount is the number of predictions a YOLOv8 head emits for a square
// input: one per cell at strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		cells := inputSize / stride
		total += cells * cells
	}
	return total
}
