package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/krau/phototag/onnx"
	ort "github.com/yalue/onnxruntime_go"
)

// Prediction is the thresholded output for one image within a batch: tags
// and confidences co-ordered by descending confidence.
type Prediction struct {
	Tags        []string
	Confidences []float64
}

// Inferencer runs forward passes over decoded image batches. Load is
// idempotent; Infer preserves input order within the batch. A failure during
// the forward pass fails the whole batch.
type Inferencer interface {
	Load(ctx context.Context) error
	Infer(batch []*DecodedImage) ([]Prediction, error)
}

// The ONNX Runtime environment is process-global; initialize it exactly once
// no matter how many engines are created.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libOverride string) error {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(onnx.LibPath(libOverride))
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Engine owns the loaded model, its device placement and the class
// vocabulary. The session is owned exclusively here and never exposed for
// concurrent mutation.
type Engine struct {
	modelPath string
	vocabPath string
	device    string
	libOnnx   string
	size      int
	threshold float32

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	vocab   *vocabulary
	loaded  bool
}

// NewEngine creates an engine for the given model and vocabulary files.
// threshold > 0 globally overrides per-class thresholds from the vocabulary.
func NewEngine(modelPath, vocabPath, device, libOnnx string, size int, threshold float32) *Engine {
	return &Engine{
		modelPath: modelPath,
		vocabPath: vocabPath,
		device:    device,
		libOnnx:   libOnnx,
		size:      size,
		threshold: threshold,
	}
}

// Load materializes the model, session and vocabulary. Repeated calls are
// no-ops after the first success.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrModel, err)
	}

	if err := initRuntime(e.libOnnx); err != nil {
		return fmt.Errorf("%w: failed to initialize ONNX Runtime: %v", ErrModel, err)
	}

	vocab, err := loadVocabulary(e.vocabPath, defaultClassThreshold)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModel, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(e.modelPath)
	if err != nil {
		return fmt.Errorf("%w: failed to get model input/output info: %v", ErrModel, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("%w: model %s declares no inputs or outputs", ErrModel, e.modelPath)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("%w: failed to create session options: %v", ErrModel, err)
	}
	defer opts.Destroy()

	if err := applyDevice(opts, e.device); err != nil {
		return err
	}

	// Native session creation chatters on stdout with some runtimes; keep it
	// away from result output for the duration of the load.
	release := captureStdout()
	session, err := ort.NewDynamicAdvancedSession(
		e.modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	release()
	if err != nil {
		return fmt.Errorf("%w: failed to create ONNX Runtime session: %v; "+
			"clear the model cache if corrupted, or use --device cpu on low-memory hosts", ErrModel, err)
	}

	e.session = session
	e.vocab = vocab
	e.loaded = true
	return nil
}

// applyDevice maps the device selector onto execution-provider options.
func applyDevice(opts *ort.SessionOptions, device string) error {
	switch device {
	case "", "cpu":
		return nil
	case "cuda":
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("%w: CUDA unavailable: %v; use --device cpu", ErrModel, err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return fmt.Errorf("%w: failed to enable CUDA: %v; use --device cpu", ErrModel, err)
		}
		return nil
	case "coreml":
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("%w: failed to enable CoreML: %v; use --device cpu", ErrModel, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid device %q, valid options: cpu, cuda, coreml", ErrModel, device)
	}
}

// Infer runs one forward pass over the stacked batch and returns one
// prediction per input image, in batch order.
func (e *Engine) Infer(batch []*DecodedImage) ([]Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, fmt.Errorf("%w: model not loaded", ErrModel)
	}
	n := len(batch)
	if n == 0 {
		return nil, nil
	}

	chw := 3 * e.size * e.size
	data := make([]float32, n*chw)
	for i, img := range batch {
		copy(data[i*chw:(i+1)*chw], img.Tensor)
	}

	input, err := ort.NewTensor(ort.NewShape(int64(n), 3, int64(e.size), int64(e.size)), data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", ErrModel, err)
	}
	defer input.Destroy()

	classes := e.vocab.size()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(classes)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output tensor: %v", ErrModel, err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("%w: forward pass failed: %v; reduce --batch-size on low-memory hosts", ErrModel, err)
	}

	logits := output.GetData()
	preds := make([]Prediction, n)
	for i := range preds {
		preds[i] = e.vocab.selectTags(logits[i*classes:(i+1)*classes], e.threshold)
	}
	return preds, nil
}

// selectTags converts one row of logits into a thresholded, ordered tag
// list. The sort is stable: equal scores keep vocabulary order, so results
// are deterministic across runs.
func (v *vocabulary) selectTags(logits []float32, global float32) Prediction {
	type item struct {
		tag   string
		score float64
	}
	var items []item
	for i, logit := range logits {
		p := Sigmoid(logit)
		if p < v.threshold(i, global) {
			continue
		}
		if _, reserved := reservedClasses[v.labels[i]]; reserved {
			continue
		}
		items = append(items, item{tag: v.labels[i], score: roundScore(float64(p))})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	pred := Prediction{
		Tags:        make([]string, 0, len(items)),
		Confidences: make([]float64, 0, len(items)),
	}
	for _, it := range items {
		pred.Tags = append(pred.Tags, it.tag)
		pred.Confidences = append(pred.Confidences, it.score)
	}
	return pred
}
