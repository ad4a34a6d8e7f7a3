package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/loviiin/argus-captcha/pkg/captcha"
)

// Options configura o detector YOLO local.
type Options struct {
	ModelPath   string
	LibraryPath string
	InputSize   int
	MinScore    float64
	IoU         float64
	Enhance     bool
}

// YOLO roda um YOLOv8 exportado em ONNX. A sessão é criada uma vez por processo;
// os tensores de entrada/saída são reaproveitados, então Detect é serializado.
type YOLO struct {
	opts    Options
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	anchors int
	mu      sync.Mutex
	logger  *zap.Logger
}

func NewYOLO(opts Options, logger *zap.Logger) (*YOLO, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 640
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.1
	}
	if opts.IoU <= 0 {
		opts.IoU = 0.45
	}

	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("erro inicializando onnxruntime: %w", err)
		}
	}

	size := int64(opts.InputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("erro criando tensor de entrada: %w", err)
	}

	// YOLOv8 com entrada 640 produz 8400 âncoras (80² + 40² + 20²).
	anchors := anchorCount(opts.InputSize)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(COCOLabels)), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("erro criando tensor de saída: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("erro carregando modelo %s: %w", opts.ModelPath, err)
	}

	logger.Info("modelo carregado", zap.String("modelo", opts.ModelPath), zap.Int("entrada", opts.InputSize))
	return &YOLO{
		opts:    opts,
		session: session,
		input:   input,
		output:  output,
		anchors: anchors,
		logger:  logger,
	}, nil
}

func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := size / stride
		n += side * side
	}
	return n
}

// Detect devolve caixas em pixels da imagem recebida.
func (y *YOLO) Detect(ctx context.Context, data []byte) ([]captcha.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("erro decodificando imagem: %w", err)
	}
	if y.opts.Enhance {
		src = enhance(src)
	}
	boxed, lb := letterbox(src, y.opts.InputSize)

	y.mu.Lock()
	copy(y.input.GetData(), toCHW(boxed, y.opts.InputSize))
	if err := y.session.Run(); err != nil {
		y.mu.Unlock()
		return nil, fmt.Errorf("erro na inferência: %w", err)
	}
	out := append([]float32(nil), y.output.GetData()...)
	y.mu.Unlock()

	cands := nms(decodeYOLOv8(out, y.anchors, len(COCOLabels), float32(y.opts.MinScore)), y.opts.IoU)
	detections := make([]captcha.Detection, 0, len(cands))
	for _, c := range cands {
		detections = append(detections, captcha.Detection{
			Label:      labelFor(c.class),
			Confidence: float64(c.score),
			Box:        lb.Unmap(c.box),
		})
	}
	y.logger.Debug("inferência concluída", zap.Int("detecções", len(detections)))
	return detections, nil
}

// Close libera sessão e tensores. O ambiente onnxruntime fica vivo até o fim do processo.
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	var firstErr error
	for _, d := range []interface{ Destroy() error }{y.session, y.input, y.output} {
		if err := d.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
