package worker

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Mouse simula aproximação e clique humanos. Guarda a última posição para que
// cada movimento parta de onde o anterior terminou.
type Mouse struct {
	mu     sync.Mutex
	rng    *rand.Rand
	last   proto.Point
	moved  bool
	tremor float64
	sleep  func(time.Duration)
}

func NewMouse(seed uint64) *Mouse {
	return &Mouse{
		rng:   rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
		sleep: time.Sleep,
	}
}

func (m *Mouse) between(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

func (m *Mouse) pause(minMs, maxMs int) {
	m.sleep(time.Duration(minMs+m.rng.IntN(maxMs-minMs+1)) * time.Millisecond)
}

// nextTremor é um ruído suave de senos com frequências diferentes.
func (m *Mouse) nextTremor() float64 {
	m.tremor += 0.1
	n := math.Sin(m.tremor*0.7) * 0.5
	n += math.Sin(m.tremor*1.3+1.5) * 0.3
	n += math.Sin(m.tremor*2.7+0.7) * 0.2
	return n
}

func cubicBezier(t, p0, p1, p2, p3 float64) float64 {
	u := 1 - t
	return u*u*u*p0 + 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t*p3
}

// Path gera a trajetória de from até to por uma Bézier cúbica com tremor.
// O último ponto é exatamente o alvo.
func (m *Mouse) Path(from, to proto.Point) []proto.Point {
	m.mu.Lock()
	defer m.mu.Unlock()

	distance := math.Hypot(to.X-from.X, to.Y-from.Y)
	steps := int(math.Max(25, math.Min(60, distance/10)))

	cp1X := from.X + (to.X-from.X)*m.between(0.2, 0.4) + m.between(-20, 20)
	cp1Y := from.Y + (to.Y-from.Y)*m.between(0.2, 0.4) + m.between(-20, 20)
	cp2X := from.X + (to.X-from.X)*m.between(0.6, 0.8) + m.between(-10, 10)
	cp2Y := from.Y + (to.Y-from.Y)*m.between(0.6, 0.8) + m.between(-10, 10)

	points := make([]proto.Point, 0, steps+1)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		tr := m.nextTremor()
		points = append(points, proto.Point{
			X: cubicBezier(t, from.X, cp1X, cp2X, to.X) + tr*1.5,
			Y: cubicBezier(t, from.Y, cp1Y, cp2Y, to.Y) + tr*1.0,
		})
	}
	return append(points, to)
}

// approachDelay: rápido no início, desacelera perto do alvo.
func approachDelay(t float64) time.Duration {
	eased := t * (2 - t)
	ms := 25 - eased*17
	return time.Duration(math.Max(ms, 5)) * time.Millisecond
}

// Approach leva o ponteiro da página até um ponto aleatório perto do centro de el.
// el precisa pertencer à própria page (coordenadas da viewport dela).
func (m *Mouse) Approach(page *rod.Page, el *rod.Element) error {
	shape, err := el.Shape()
	if err != nil {
		return fmt.Errorf("erro obtendo posição do elemento: %w", err)
	}
	box := shape.Box()
	if box == nil || box.Width == 0 {
		return fmt.Errorf("elemento sem dimensões válidas")
	}

	m.mu.Lock()
	from := m.last
	if !m.moved {
		from = proto.Point{X: m.between(100, 400), Y: m.between(100, 300)}
	}
	target := proto.Point{
		X: box.X + box.Width*m.between(0.35, 0.65),
		Y: box.Y + box.Height*m.between(0.35, 0.65),
	}
	m.mu.Unlock()

	path := m.Path(from, target)
	for i, p := range path {
		if err := page.Mouse.MoveLinear(p, 1); err != nil {
			return fmt.Errorf("erro movendo mouse: %w", err)
		}
		m.sleep(approachDelay(float64(i) / float64(len(path))))
	}

	m.mu.Lock()
	m.last, m.moved = target, true
	m.mu.Unlock()
	return nil
}

// Click clica em el com hesitação antes e reação depois.
func (m *Mouse) Click(el *rod.Element) error {
	if err := el.Hover(); err != nil {
		return err
	}
	m.pause(120, 350)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	m.pause(80, 180)
	return nil
}
