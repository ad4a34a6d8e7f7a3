package captcha

import (
	"context"
	"fmt"
	"sort"
)

// DetectionModel roda o detector de objetos sobre os bytes de uma imagem.
// As caixas voltam em coordenadas de pixel da imagem recebida.
type DetectionModel interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// DefaultMinOverlap é a fração mínima da célula que uma caixa precisa cobrir.
const DefaultMinOverlap = 0.04

// Resolver mapeia detecções para índices de célula do grid.
type Resolver struct {
	model      DetectionModel
	minOverlap float64
}

func NewResolver(model DetectionModel, minOverlap float64) *Resolver {
	if minOverlap <= 0 {
		minOverlap = DefaultMinOverlap
	}
	return &Resolver{model: model, minOverlap: minOverlap}
}

// Resolve roda o modelo uma vez e devolve os índices atingidos (ordenados, sem
// repetição) junto com as detecções que sobreviveram ao filtro.
func (r *Resolver) Resolve(ctx context.Context, img ChallengeImage, grid int, labels []string, threshold float64) ([]int, []Detection, error) {
	detections, err := r.model.Detect(ctx, img.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("erro rodando detector: %w", err)
	}
	kept := FilterDetections(detections, labels, threshold)
	return HitCells(kept, img.Width, img.Height, grid, r.minOverlap), kept, nil
}

// FilterDetections descarta labels fora do alvo e confiança abaixo do limiar.
func FilterDetections(detections []Detection, labels []string, threshold float64) []Detection {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var kept []Detection
	for _, d := range detections {
		if want[d.Label] && d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// HitCells marca toda célula cuja fração de sobreposição excede minOverlap.
func HitCells(detections []Detection, width, height, grid int, minOverlap float64) []int {
	cells := Cells(width, height, grid)
	seen := make(map[int]bool)
	for _, d := range detections {
		for _, cell := range cells {
			if OverlapFraction(d.Box, cell) > minOverlap {
				seen[cell.Index] = true
			}
		}
	}
	hits := make([]int, 0, len(seen))
	for idx := range seen {
		hits = append(hits, idx)
	}
	sort.Ints(hits)
	return hits
}
