package captcha

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newAudio(fetcher AudioFetcher, speech SpeechClient, dir string, p *Policy) *AudioController {
	return NewAudioController(NewTranscriber(fetcher, speech, dir, nil), p, nil)
}

func TestAudioTypesNormalizedAnswer(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("ID3 fake mp3")}
	speech := &fakeSpeech{replies: []string{"won too tree sex"}}
	frame := &fakeFrame{
		audioSrc:          "https://www.google.com/recaptcha/api2/payload?p=abc&amp;k=site",
		solvedAfterVerify: 1,
	}
	dir := t.TempDir()

	outcome, err := newAudio(fetcher, speech, dir, instantPolicy()).Solve(context.Background(), frame)
	if err != nil || outcome != OutcomeSolved {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if got := frame.typed.String(); got != "1 2 3 6" {
		t.Errorf("digitado %q, esperado %q", got, "1 2 3 6")
	}
	if frame.switches != 1 {
		t.Errorf("deveria trocar para áudio uma vez, trocou %d", frame.switches)
	}
	if len(fetcher.urls) != 1 || fetcher.urls[0] != "https://www.google.com/recaptcha/api2/payload?p=abc&k=site" {
		t.Errorf("URL não foi decodificada: %v", fetcher.urls)
	}
	if frame.verifies != 1 {
		t.Errorf("verifies = %d", frame.verifies)
	}
	if countFiles(t, dir, "argus_audio_") != 0 {
		t.Error("arquivo temporário de áudio não foi removido")
	}
}

func TestAudioLockoutStopsBeforeNetwork(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("mp3")}
	speech := &fakeSpeech{replies: []string{"1 2 3"}}
	frame := &fakeFrame{
		audioSrc:       "https://example.test/a.mp3",
		lockoutOnAudio: "Try again later. Your computer or network may be sending automated queries.",
	}

	outcome, err := newAudio(fetcher, speech, t.TempDir(), instantPolicy()).Solve(context.Background(), frame)
	if outcome != OutcomeLockout || !errors.Is(err, ErrLockout) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if fetcher.calls != 0 || speech.calls != 0 {
		t.Errorf("nenhuma chamada de rede deveria acontecer: fetch=%d stt=%d", fetcher.calls, speech.calls)
	}
	if frame.reloads != 0 || frame.verifies != 0 {
		t.Error("lockout não pode ser re-tentado")
	}
}

func TestAudioTranscriptionFailureReloads(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("mp3")}
	speech := &fakeSpeech{
		errs:    []error{errors.New("503 do provedor")},
		replies: []string{"", "for five"},
	}
	frame := &fakeFrame{audioSrc: "https://example.test/a.mp3", audioMode: true}
	frame.onVerify = func() { frame.solvedAfterVerify = frame.verifies }

	r := newAudio(fetcher, speech, t.TempDir(), instantPolicy()).SolveWithReport(context.Background(), frame)
	if r.Outcome != OutcomeSolved {
		t.Fatalf("report = %+v", r)
	}
	if frame.reloads != 1 || r.Reloads != 1 {
		t.Errorf("esperado 1 reload, frame=%d report=%d", frame.reloads, r.Reloads)
	}
	if frame.typed.String() != "4 5" {
		t.Errorf("digitado %q", frame.typed.String())
	}
	if frame.switches != 0 {
		t.Error("já estava em modo áudio")
	}
}

func TestAudioMissingSourceReloads(t *testing.T) {
	frame := &fakeFrame{audioMode: true}
	p := instantPolicy()
	p.MaxAudioAttempts = 3

	outcome, err := newAudio(&fakeFetcher{}, &fakeSpeech{}, t.TempDir(), p).Solve(context.Background(), frame)
	if outcome != OutcomeFailed || !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if frame.reloads != 3 {
		t.Errorf("reloads = %d, esperado 3", frame.reloads)
	}
}

func TestAudioWrongAnswerReloads(t *testing.T) {
	frame := &fakeFrame{audioSrc: "https://example.test/a.mp3", audioMode: true, answerError: true}
	p := instantPolicy()
	p.MaxAudioAttempts = 2

	outcome, err := newAudio(&fakeFetcher{data: []byte("x")}, &fakeSpeech{replies: []string{"ate"}}, t.TempDir(), p).Solve(context.Background(), frame)
	if outcome != OutcomeFailed || !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if frame.reloads != 2 || frame.verifies != 2 {
		t.Errorf("reloads=%d verifies=%d", frame.reloads, frame.verifies)
	}
}

func TestAudioBannerAbsenceIsInconclusive(t *testing.T) {
	// Sem banner e sem navegação: não conta como sucesso e não recarrega.
	frame := &fakeFrame{audioSrc: "https://example.test/a.mp3", audioMode: true}
	p := instantPolicy()
	p.MaxAudioAttempts = 2

	outcome, _ := newAudio(&fakeFetcher{data: []byte("x")}, &fakeSpeech{replies: []string{"one"}}, t.TempDir(), p).Solve(context.Background(), frame)
	if outcome != OutcomeFailed {
		t.Fatalf("ausência de banner não pode virar Solved: %v", outcome)
	}
	if frame.reloads != 0 || frame.verifies != 2 {
		t.Errorf("reloads=%d verifies=%d", frame.reloads, frame.verifies)
	}
}

func TestTranscriberEmptyTranscript(t *testing.T) {
	tr := NewTranscriber(&fakeFetcher{data: []byte("x")}, &fakeSpeech{replies: []string{" ...  "}}, t.TempDir(), nil)
	_, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"})
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("esperado ErrTranscription, veio %v", err)
	}
}

func TestTranscriberFetchFailure(t *testing.T) {
	tr := NewTranscriber(&fakeFetcher{err: errors.New("connection reset")}, &fakeSpeech{}, t.TempDir(), nil)
	_, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"})
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("esperado ErrTranscription, veio %v", err)
	}
}

func TestTranscriberScratchDirMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nao-existe")
	tr := NewTranscriber(&fakeFetcher{data: []byte("x")}, &fakeSpeech{replies: []string{"one"}}, missing, nil).
		WithTranscoder(&fakeTranscoder{})
	_, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"})
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("esperado ErrTranscription, veio %v", err)
	}
	if _, statErr := os.Stat(missing); !os.IsNotExist(statErr) {
		t.Error("diretório não deveria ter sido criado")
	}
}

func TestTranscriberSendsTranscodedAudio(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeTranscoder{}
	stt := &fakeSpeech{replies: []string{"seven four"}}
	tr := NewTranscriber(&fakeFetcher{data: []byte("ID3mp3")}, stt, dir, nil).WithTranscoder(tc)

	res, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"})
	if err != nil {
		t.Fatal(err)
	}
	if res.NormalizedText != "7 4" {
		t.Errorf("normalizado = %q", res.NormalizedText)
	}
	if len(stt.mimes) != 1 || stt.mimes[0] != "audio/x-flac; rate=16000" || stt.bodies[0] != "flac:ID3mp3" {
		t.Errorf("stt recebeu mime=%v corpo=%v", stt.mimes, stt.bodies)
	}
	if len(tc.paths) != 1 || filepath.Dir(tc.paths[0]) != dir {
		t.Fatalf("arquivo de rascunho = %v", tc.paths)
	}
	if _, err := os.Stat(tc.paths[0]); !os.IsNotExist(err) {
		t.Error("arquivo de rascunho deveria ser removido")
	}
}

func TestTranscriberWithoutTranscoderSendsMP3(t *testing.T) {
	dir := t.TempDir()
	stt := &fakeSpeech{replies: []string{"one"}}
	tr := NewTranscriber(&fakeFetcher{data: []byte("ID3mp3")}, stt, dir, nil)

	if _, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"}); err != nil {
		t.Fatal(err)
	}
	if stt.mimes[0] != "audio/mpeg" || stt.bodies[0] != "ID3mp3" {
		t.Errorf("stt recebeu mime=%v corpo=%v", stt.mimes, stt.bodies)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("nada deveria ser gravado sem transcoder: %d arquivos", len(entries))
	}
}

func TestTranscriberTranscodeFailure(t *testing.T) {
	stt := &fakeSpeech{replies: []string{"one"}}
	tr := NewTranscriber(&fakeFetcher{data: []byte("x")}, stt, t.TempDir(), nil).
		WithTranscoder(&fakeTranscoder{err: errors.New("ffmpeg ausente")})

	_, err := tr.Transcribe(context.Background(), &fakeFrame{audioSrc: "https://example.test/a.mp3"})
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("esperado ErrTranscription, veio %v", err)
	}
	if stt.calls != 0 {
		t.Error("stt não deveria ser chamado sem áudio convertido")
	}
}
