package captcha

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
)

func newVisual(model DetectionModel, p *Policy) *VisualController {
	return NewVisualController(NewResolver(model, 0.04), p, VisualOptions{StaticConfidence: 0.25, DynamicConfidence: 0.15}, nil)
}

func TestVisualStaticBus(t *testing.T) {
	model := &scriptedModel{rounds: [][]Detection{{box("bus", 0.9, 200, 0, 300, 200)}}}
	frame := &fakeFrame{
		prompts:           []string{"Select all images with a bus"},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 1,
	}

	outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame)
	if err != nil || outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	clicks := append([]int(nil), frame.clicks...)
	sort.Ints(clicks)
	if !reflect.DeepEqual(clicks, []int{2, 5}) {
		t.Errorf("cliques = %v, esperado {2,5}", frame.clicks)
	}
	if frame.verifies != 1 {
		t.Errorf("verificar clicado %d vezes", frame.verifies)
	}
}

func TestVisualDynamicSubmitsWhenNothingNew(t *testing.T) {
	model := &scriptedModel{rounds: [][]Detection{
		{box("motorcycle", 0.18, 0, 0, 100, 200)},
		{box("motorcycle", 0.6, 100, 0, 200, 100)},
		{},
	}}
	detectsAtVerify := -1
	frame := &fakeFrame{
		prompts:           []string{"Select all images with motorcycles. Click verify once there are none left."},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 1,
	}
	frame.onVerify = func() { detectsAtVerify = model.calls }

	outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame)
	if err != nil || outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if len(frame.clicks) != 3 {
		t.Fatalf("cliques = %v", frame.clicks)
	}
	first := append([]int(nil), frame.clicks[:2]...)
	sort.Ints(first)
	if !reflect.DeepEqual(first, []int{0, 3}) || frame.clicks[2] != 1 {
		t.Errorf("ordem de rodadas incorreta: %v", frame.clicks)
	}
	if detectsAtVerify != 3 {
		t.Errorf("verificar deveria vir depois da terceira detecção, veio depois da %d", detectsAtVerify)
	}
}

func TestVisualDynamicReclicksSameCell(t *testing.T) {
	hit := []Detection{box("car", 0.5, 0, 0, 100, 100)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit, {}}}
	frame := &fakeFrame{
		prompts:           []string{"Select all images with cars. Click verify once there are none left."},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 1,
	}
	if outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame); outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if !reflect.DeepEqual(frame.clicks, []int{0, 0}) {
		t.Errorf("no modo dinâmico a mesma célula pode voltar: %v", frame.clicks)
	}
}

func TestVisualStaticNeverReclicks(t *testing.T) {
	hit := []Detection{box("bus", 0.9, 100, 100, 200, 200)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit, hit, hit}}
	frame := &fakeFrame{
		prompts:        []string{"Select all images with a bus"},
		tiles:          9,
		image:          pngBytes(t, 300, 300),
		selectionError: true,
	}
	p := instantPolicy()
	p.MaxReloads = 0

	outcome, err := newVisual(model, p).Solve(context.Background(), frame)
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %v", outcome)
	}
	if !errors.Is(err, ErrDeadEnd) {
		t.Errorf("esperado ErrDeadEnd, veio %v", err)
	}
	if !reflect.DeepEqual(frame.clicks, []int{4}) {
		t.Errorf("célula 4 deveria ser clicada uma única vez: %v", frame.clicks)
	}
	if frame.verifies != 2 {
		t.Errorf("esperado 2 verificações, veio %d", frame.verifies)
	}
}

func newVisualWithSink(model DetectionModel, p *Policy, sink SampleSink) *VisualController {
	return NewVisualController(NewResolver(model, 0.04), p, VisualOptions{Samples: sink}, nil)
}

func distinct(ids []string) int {
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	return len(seen)
}

func TestVisualSilentRejectionRenewsChallenge(t *testing.T) {
	hit := []Detection{box("bus", 0.9, 100, 100, 200, 200)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit, hit}}
	frame := &fakeFrame{
		prompts: []string{"Select all images with a bus"},
		tiles:   9,
		image:   pngBytes(t, 300, 300),
	}
	p := instantPolicy()
	p.MaxRounds = 3
	sink := &idSink{}

	outcome, err := newVisualWithSink(model, p, sink).Solve(context.Background(), frame)
	if outcome != OutcomeFailed || !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if frame.verifies != 3 {
		t.Errorf("esperado 3 verificações, veio %d", frame.verifies)
	}
	// A célula só volta a ser clicada porque cada rodada é um desafio novo.
	if len(sink.ids) != 3 || distinct(sink.ids) != 3 {
		t.Errorf("cada envio sem banner deveria abrir um desafio novo: %v", sink.ids)
	}
	if !reflect.DeepEqual(frame.clicks, []int{4, 4, 4}) {
		t.Errorf("cliques = %v", frame.clicks)
	}
}

func TestVisualMissingVerifyKeepsHistory(t *testing.T) {
	hit := []Detection{box("bus", 0.9, 100, 100, 200, 200)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit, hit}}
	frame := &fakeFrame{
		prompts:           []string{"Select all images with a bus"},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 1,
		verifyMissing:     2,
	}
	sink := &idSink{}

	outcome, err := newVisualWithSink(model, instantPolicy(), sink).Solve(context.Background(), frame)
	if outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if !reflect.DeepEqual(frame.clicks, []int{4}) {
		t.Errorf("tile marcado não pode ser clicado de novo antes do envio: %v", frame.clicks)
	}
	if frame.verifies != 1 || distinct(sink.ids) != 1 {
		t.Errorf("verificações=%d desafios=%v", frame.verifies, sink.ids)
	}
}

func TestVisualIncorrectResponseRenewsChallenge(t *testing.T) {
	hit := []Detection{box("bus", 0.9, 100, 100, 200, 200)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit}}
	frame := &fakeFrame{
		prompts:           []string{"Select all images with a bus"},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 2,
		incorrectOn:       map[int]bool{1: true},
	}
	sink := &idSink{}
	p := instantPolicy()
	p.MaxVerifyRetries = 1

	outcome, err := newVisualWithSink(model, p, sink).Solve(context.Background(), frame)
	if outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	// Imagens novas: a célula 4 precisa ser clicada outra vez.
	if !reflect.DeepEqual(frame.clicks, []int{4, 4}) {
		t.Errorf("cliques = %v", frame.clicks)
	}
	if len(sink.ids) != 2 || distinct(sink.ids) != 2 {
		t.Errorf("\"tente novamente\" deveria abrir um desafio novo: %v", sink.ids)
	}
	if frame.reloads != 0 {
		t.Errorf("não deveria recarregar: %d", frame.reloads)
	}
}

func TestVisualDeadEndReloadsAndResetsHistory(t *testing.T) {
	hit := []Detection{box("bus", 0.9, 100, 100, 200, 200)}
	model := &scriptedModel{rounds: [][]Detection{hit, hit, hit}}
	frame := &fakeFrame{
		prompts:        []string{"Select all images with a bus"},
		tiles:          9,
		image:          pngBytes(t, 300, 300),
		selectionError: true,
	}
	frame.onVerify = func() {
		// depois do reload o provedor aceita
		if frame.reloads > 0 {
			frame.solvedAfterVerify = frame.verifies
		}
	}
	p := instantPolicy()
	p.MaxReloads = 1

	outcome, err := newVisual(model, p).Solve(context.Background(), frame)
	if outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if frame.reloads != 1 {
		t.Errorf("esperado 1 reload, veio %d", frame.reloads)
	}
	if !reflect.DeepEqual(frame.clicks, []int{4, 4}) {
		t.Errorf("desafio novo deveria permitir clicar de novo: %v", frame.clicks)
	}
}

func TestVisualUnsupportedConsumesReloads(t *testing.T) {
	model := &scriptedModel{}
	frame := &fakeFrame{
		prompts: []string{"Select all squares with crosswalks"},
		tiles:   16,
		image:   pngBytes(t, 400, 400),
	}
	p := instantPolicy()
	p.MaxReloads = 3

	outcome, err := newVisual(model, p).Solve(context.Background(), frame)
	if outcome != OutcomeFailed || !errors.Is(err, ErrUnsupportedChallenge) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if frame.reloads != 3 {
		t.Errorf("reloads = %d, esperado 3", frame.reloads)
	}
	if model.calls != 0 {
		t.Errorf("detector não deveria rodar para desafio não suportado")
	}
}

func TestVisualCategoryChangeResetsHistory(t *testing.T) {
	model := &scriptedModel{rounds: [][]Detection{
		{box("bus", 0.9, 0, 0, 100, 100)},
		{box("car", 0.9, 0, 0, 100, 100)},
	}}
	frame := &fakeFrame{
		prompts:        []string{"Select all images with a bus", "Select all images with cars"},
		tiles:          9,
		image:          pngBytes(t, 300, 300),
		selectionError: true,
	}
	frame.onVerify = func() {
		if frame.verifies == 2 {
			frame.solvedAfterVerify = 2
		}
	}
	if outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame); outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if !reflect.DeepEqual(frame.clicks, []int{0, 0}) {
		t.Errorf("troca de categoria deveria liberar a célula 0: %v", frame.clicks)
	}
}

func TestVisualLockout(t *testing.T) {
	frame := &fakeFrame{lockout: "Try again later", tiles: 9}
	model := &scriptedModel{}
	outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame)
	if outcome != OutcomeLockout || !errors.Is(err, ErrLockout) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if model.calls != 0 || frame.verifies != 0 {
		t.Error("nada deveria acontecer depois do lockout")
	}
}

func TestVisualDriverFailureIsFatal(t *testing.T) {
	model := &scriptedModel{rounds: [][]Detection{{box("bus", 0.9, 0, 0, 100, 100)}}}
	frame := &fakeFrame{
		prompts:  []string{"Select all images with a bus"},
		tiles:    9,
		image:    pngBytes(t, 300, 300),
		clickErr: DriverFailure("tile", errors.New("target closed")),
	}
	outcome, err := newVisual(model, instantPolicy()).Solve(context.Background(), frame)
	if outcome != OutcomeFailed || !errors.Is(err, ErrFatal) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
}

func TestVisualRoundsAreBounded(t *testing.T) {
	// Nunca resolve, nunca mostra banner: o provedor só troca as imagens.
	model := &scriptedModel{}
	frame := &fakeFrame{
		prompts: []string{"Select all images with a bus"},
		tiles:   9,
		image:   pngBytes(t, 300, 300),
	}
	p := instantPolicy()
	p.MaxRounds = 5

	r := newVisual(model, p).SolveWithReport(context.Background(), frame)
	if r.Outcome != OutcomeFailed || !errors.Is(r.Err, ErrAttemptsExhausted) {
		t.Fatalf("report = %+v", r)
	}
	if r.Rounds != 5 || frame.verifies != 5 {
		t.Errorf("rounds=%d verifies=%d", r.Rounds, frame.verifies)
	}
}

func TestVisualCollectsSamples(t *testing.T) {
	dir := t.TempDir()
	collector, err := NewSampleCollector(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	model := &scriptedModel{rounds: [][]Detection{{box("bus", 0.9, 200, 0, 300, 200)}}}
	frame := &fakeFrame{
		prompts:           []string{"Select all images with a bus"},
		tiles:             9,
		image:             pngBytes(t, 300, 300),
		solvedAfterVerify: 1,
	}
	c := NewVisualController(NewResolver(model, 0.04), instantPolicy(), VisualOptions{Samples: collector}, nil)
	if outcome, _ := c.Solve(context.Background(), frame); outcome != OutcomeSolved {
		t.Fatalf("outcome = %v", outcome)
	}
	labels := countFiles(t, dir, "_label.json")
	tiles := countFiles(t, dir, "_tile_")
	if labels != 1 || tiles != 2 {
		t.Errorf("labels=%d tiles=%d", labels, tiles)
	}
}
