package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Sample é uma rodada de detecção guardada para calibrar limiares offline.
type Sample struct {
	ChallengeID string
	Prompt      string
	Labels      []string
	Mode        string
	GridSize    int
	Threshold   float64
	Hits        []int
	Detections  []Detection
	Image       ChallengeImage
}

// SampleLabel é o JSON salvo ao lado de cada imagem.
type SampleLabel struct {
	ID          string      `json:"id"`
	ChallengeID string      `json:"challenge_id"`
	Prompt      string      `json:"prompt"`
	Labels      []string    `json:"labels"`
	Mode        string      `json:"mode"`
	GridSize    int         `json:"grid_size"`
	Threshold   float64     `json:"threshold"`
	Hits        []int       `json:"hits"`
	Detections  []Detection `json:"detections"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Timestamp   string      `json:"timestamp"`
}

// SampleSink recebe samples do controller visual.
type SampleSink interface {
	Save(ctx context.Context, s Sample) (string, error)
}

// SampleCollector grava samples em disco: grid inteiro, um recorte por hit e o label.
type SampleCollector struct {
	dir    string
	logger *zap.Logger
}

func NewSampleCollector(dir string, logger *zap.Logger) (*SampleCollector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("erro criando diretório dataset '%s': %w", dir, err)
	}
	return &SampleCollector{dir: dir, logger: logger}, nil
}

// Save devolve o ID do sample. Em qualquer falha os arquivos parciais são removidos.
func (c *SampleCollector) Save(ctx context.Context, s Sample) (string, error) {
	id := newChallenge(KindVisual).ID
	written := []string{}
	fail := func(err error) (string, error) {
		c.cleanup(written)
		return "", err
	}

	gridPath := filepath.Join(c.dir, id+"_grid.png")
	if err := os.WriteFile(gridPath, s.Image.Data, 0644); err != nil {
		return fail(fmt.Errorf("erro salvando grid: %w", err))
	}
	written = append(written, gridPath)

	if len(s.Hits) > 0 {
		src, err := imaging.Decode(bytes.NewReader(s.Image.Data))
		if err != nil {
			return fail(fmt.Errorf("erro decodificando grid: %w", err))
		}
		cells := Cells(s.Image.Width, s.Image.Height, s.GridSize)
		for _, idx := range s.Hits {
			if idx < 0 || idx >= len(cells) {
				continue
			}
			r := cells[idx].Rect
			tile := imaging.Crop(src, image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)))
			tilePath := filepath.Join(c.dir, fmt.Sprintf("%s_tile_%d.png", id, idx))
			if err := imaging.Save(tile, tilePath); err != nil {
				return fail(fmt.Errorf("erro salvando tile %d: %w", idx, err))
			}
			written = append(written, tilePath)
		}
	}

	label := SampleLabel{
		ID:          id,
		ChallengeID: s.ChallengeID,
		Prompt:      s.Prompt,
		Labels:      s.Labels,
		Mode:        s.Mode,
		GridSize:    s.GridSize,
		Threshold:   s.Threshold,
		Hits:        s.Hits,
		Detections:  s.Detections,
		Width:       s.Image.Width,
		Height:      s.Image.Height,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	labelData, err := json.MarshalIndent(label, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("erro serializando label: %w", err))
	}
	labelPath := filepath.Join(c.dir, id+"_label.json")
	if err := os.WriteFile(labelPath, labelData, 0644); err != nil {
		return fail(fmt.Errorf("erro salvando label: %w", err))
	}

	c.logger.Debug("sample coletado", zap.String("id", id), zap.Ints("hits", s.Hits))
	return id, nil
}

func (c *SampleCollector) cleanup(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("erro removendo arquivo do sample", zap.String("arquivo", f), zap.Error(err))
		}
	}
}
