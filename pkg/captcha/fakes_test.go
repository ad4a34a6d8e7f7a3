package captcha

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
	"time"
)

// fakeFrame simula o bframe do provedor.
type fakeFrame struct {
	prompts []string
	tiles   int
	image   []byte

	// solvedAfterVerify > 0: Solved vira true depois de N cliques em verificar.
	solvedAfterVerify int
	lockout           string
	lockoutOnAudio    string
	selectionError    bool
	// incorrectOn marca em quais verificações (1-based) aparece "tente novamente".
	incorrectOn       map[int]bool
	// verifyMissing faz as primeiras N chamadas de ClickVerify não acharem o botão.
	verifyMissing     int
	answerError       bool
	audioSrc          string

	clickErr error

	round     int
	audioMode bool
	clicks    []int
	verifies  int
	reloads   int
	switches  int
	typed     strings.Builder
	cleared   int

	onVerify func()
}

func (f *fakeFrame) GridReady(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeFrame) PromptText(ctx context.Context) (string, error) {
	if len(f.prompts) == 0 {
		return "", Missing("prompt", nil)
	}
	i := f.round
	if i >= len(f.prompts) {
		i = len(f.prompts) - 1
	}
	f.round++
	return f.prompts[i], nil
}

func (f *fakeFrame) TileCount(ctx context.Context) (int, error) { return f.tiles, nil }

func (f *fakeFrame) GridImage(ctx context.Context) ([]byte, error) { return f.image, nil }

func (f *fakeFrame) ClickTile(ctx context.Context, index int) error {
	if f.clickErr != nil {
		return f.clickErr
	}
	f.clicks = append(f.clicks, index)
	return nil
}

func (f *fakeFrame) SelectionErrorVisible(ctx context.Context) (bool, error) {
	return f.selectionError, nil
}

func (f *fakeFrame) IncorrectVisible(ctx context.Context) (bool, error) {
	return f.incorrectOn[f.verifies], nil
}

func (f *fakeFrame) AudioMode(ctx context.Context) (bool, error) { return f.audioMode, nil }

func (f *fakeFrame) SwitchToAudio(ctx context.Context) error {
	f.switches++
	f.audioMode = true
	if f.lockoutOnAudio != "" {
		f.lockout = f.lockoutOnAudio
	}
	return nil
}

func (f *fakeFrame) AudioSource(ctx context.Context) (string, error) {
	if f.audioSrc == "" {
		return "", Missing("audio", nil)
	}
	return f.audioSrc, nil
}

func (f *fakeFrame) ClearAnswer(ctx context.Context) error {
	f.cleared++
	f.typed.Reset()
	return nil
}

func (f *fakeFrame) TypeAnswer(ctx context.Context, text string) error {
	f.typed.WriteString(text)
	return nil
}

func (f *fakeFrame) AnswerErrorVisible(ctx context.Context) (bool, error) { return f.answerError, nil }

func (f *fakeFrame) ClickVerify(ctx context.Context) error {
	if f.verifyMissing > 0 {
		f.verifyMissing--
		return Missing("verificar", nil)
	}
	f.verifies++
	if f.onVerify != nil {
		f.onVerify()
	}
	return nil
}

func (f *fakeFrame) ClickReload(ctx context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeFrame) LockoutText(ctx context.Context) (string, error) { return f.lockout, nil }

func (f *fakeFrame) Solved(ctx context.Context) (bool, error) {
	return f.solvedAfterVerify > 0 && f.verifies >= f.solvedAfterVerify, nil
}

// scriptedModel devolve uma lista de detecções por chamada; depois do fim, nada.
type scriptedModel struct {
	rounds [][]Detection
	calls  int
	err    error
}

func (m *scriptedModel) Detect(ctx context.Context, img []byte) ([]Detection, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.calls++
	if m.calls-1 < len(m.rounds) {
		return m.rounds[m.calls-1], nil
	}
	return nil, nil
}

// idSink guarda o ChallengeID de cada rodada de detecção.
type idSink struct{ ids []string }

func (s *idSink) Save(ctx context.Context, sample Sample) (string, error) {
	s.ids = append(s.ids, sample.ChallengeID)
	return "", nil
}

type fakeFetcher struct {
	data  []byte
	err   error
	urls  []string
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeSpeech struct {
	replies []string
	errs    []error
	calls   int
	mimes   []string
	bodies  []string
}

func (s *fakeSpeech) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	i := s.calls
	s.calls++
	s.mimes = append(s.mimes, mime)
	s.bodies = append(s.bodies, string(audio))
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	if len(s.replies) > 0 {
		return s.replies[len(s.replies)-1], nil
	}
	return "", errors.New("sem resposta")
}

// fakeTranscoder lê o arquivo gravado e devolve um "flac" marcado com o conteúdo.
type fakeTranscoder struct {
	paths []string
	err   error
}

func (f *fakeTranscoder) Transcode(ctx context.Context, path string) ([]byte, string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, "", f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return append([]byte("flac:"), data...), "audio/x-flac; rate=16000", nil
}

func instantPolicy() *Policy {
	return DefaultPolicy().
		WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }).
		WithSeed(7)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("erro gerando png: %v", err)
	}
	return buf.Bytes()
}

func box(label string, conf, x1, y1, x2, y2 float64) Detection {
	return Detection{Label: label, Confidence: conf, Box: Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}
