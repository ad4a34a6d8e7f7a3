package captcha

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
)

// Kind é o tipo de desafio apresentado pelo provedor.
type Kind int

const (
	KindVisual Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "visual"
}

// Mode distingue desafios de seleção única dos dinâmicos (tiles substituídos após o clique).
type Mode int

const (
	ModeStatic Mode = iota
	ModeDynamic
)

func (m Mode) String() string {
	if m == ModeDynamic {
		return "dynamic"
	}
	return "static"
}

// Outcome é o resultado reportado ao fluxo externo.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSolved
	OutcomeLockout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeLockout:
		return "lockout"
	default:
		return "failed"
	}
}

// Challenge é uma instância de desafio. Um reload cria uma instância nova.
type Challenge struct {
	ID         string
	Kind       Kind
	PromptText string
	GridSize   int
	Mode       Mode
	CreatedAt  time.Time

	labelsKey string
	clicked   map[int]bool
}

func newChallenge(kind Kind) *Challenge {
	return &Challenge{
		ID:        fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8]),
		Kind:      kind,
		CreatedAt: time.Now(),
		clicked:   make(map[int]bool),
	}
}

// Plan subtrai o histórico de cliques (modo estático) do conjunto de hits.
// No modo dinâmico o conjunto volta inalterado.
func (c *Challenge) Plan(hits []int) []int {
	if c.Mode == ModeDynamic {
		return append([]int(nil), hits...)
	}
	plan := make([]int, 0, len(hits))
	for _, idx := range hits {
		if !c.clicked[idx] {
			plan = append(plan, idx)
		}
	}
	return plan
}

// Record marca índices como clicados. Só tem efeito no modo estático.
func (c *Challenge) Record(idx int) {
	if c.Mode == ModeStatic {
		c.clicked[idx] = true
	}
}

func (c *Challenge) resetHistory() {
	c.clicked = make(map[int]bool)
}

// renew troca a instância após um reload: novo ID, histórico e categoria zerados.
func (c *Challenge) renew() {
	fresh := newChallenge(c.Kind)
	c.ID = fresh.ID
	c.CreatedAt = fresh.CreatedAt
	c.PromptText = ""
	c.GridSize = 0
	c.Mode = ModeStatic
	c.labelsKey = ""
	c.resetHistory()
}

// Detection é uma caixa devolvida pelo modelo, em pixels da imagem.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Rect é um retângulo (x1,y1)-(x2,y2) em pixels.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (r Rect) Area() float64 {
	w, h := r.X2-r.X1, r.Y2-r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersect devolve a interseção de r e o (vazia se não se tocam).
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}
	if out.X2 < out.X1 || out.Y2 < out.Y1 {
		return Rect{}
	}
	return out
}

// ChallengeImage é o screenshot do grid com suas dimensões.
type ChallengeImage struct {
	Data   []byte
	Width  int
	Height int
}

// NewChallengeImage lê as dimensões do cabeçalho PNG/JPEG.
func NewChallengeImage(data []byte) (ChallengeImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ChallengeImage{}, fmt.Errorf("erro lendo dimensões da imagem: %w", err)
	}
	return ChallengeImage{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// TranscriptionResult guarda o texto cru (apenas para log) e o normalizado.
type TranscriptionResult struct {
	RawText        string
	NormalizedText string
}
