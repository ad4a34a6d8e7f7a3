package detect

import (
	"sort"

	"github.com/loviiin/argus-captcha/pkg/captcha"
)

type candidate struct {
	class int
	score float32
	box   captcha.Rect
}

// decodeYOLOv8 lê a saída [1, 4+classes, anchors] (cx, cy, w, h, scores...).
func decodeYOLOv8(out []float32, anchors, classes int, minScore float32) []candidate {
	if len(out) < (4+classes)*anchors {
		return nil
	}
	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := out[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < minScore {
			continue
		}
		cx, cy := out[i], out[anchors+i]
		w, h := out[2*anchors+i], out[3*anchors+i]
		cands = append(cands, candidate{
			class: best,
			score: bestScore,
			box: captcha.Rect{
				X1: float64(cx - w/2),
				Y1: float64(cy - h/2),
				X2: float64(cx + w/2),
				Y2: float64(cy + h/2),
			},
		})
	}
	return cands
}

func iou(a, b captcha.Rect) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	return inter / (a.Area() + b.Area() - inter)
}

// nms faz supressão não-máxima por classe.
func nms(cands []candidate, threshold float64) []candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if k.class == c.class && iou(k.box, c.box) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}
