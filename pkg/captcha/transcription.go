package captcha

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"

	"go.uber.org/zap"
)

// AudioFetcher baixa o clipe do desafio.
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SpeechClient transcreve áudio. mime descreve o codec (ex.: "audio/mpeg").
type SpeechClient interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Transcoder converte o clipe gravado em path para o formato aceito pelo STT,
// devolvendo os bytes e o mime correspondente.
type Transcoder interface {
	Transcode(ctx context.Context, path string) ([]byte, string, error)
}

// Transcriber localiza, baixa e transcreve o áudio do desafio.
type Transcriber struct {
	fetcher    AudioFetcher
	speech     SpeechClient
	transcoder Transcoder
	scratchDir string
	logger     *zap.Logger
}

// ScratchPattern é o padrão dos arquivos temporários de áudio (ver o sweeper do solver).
const ScratchPattern = "argus_audio_*.mp3"

func NewTranscriber(fetcher AudioFetcher, speech SpeechClient, scratchDir string, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Transcriber{fetcher: fetcher, speech: speech, scratchDir: scratchDir, logger: logger}
}

// WithTranscoder grava cada clipe no diretório de rascunho e o converte antes do STT.
// Sem transcoder o MP3 segue direto como "audio/mpeg".
func (t *Transcriber) WithTranscoder(tc Transcoder) *Transcriber {
	t.transcoder = tc
	return t
}

// Transcribe devolve ErrNoAudio quando o frame não tem áudio e ErrTranscription
// para qualquer falha de rede, resposta ou texto vazio. Os dois pedem reload.
func (t *Transcriber) Transcribe(ctx context.Context, frame AudioFrame) (TranscriptionResult, error) {
	src, err := frame.AudioSource(ctx)
	if err != nil {
		if IsMissing(err) {
			return TranscriptionResult{}, fmt.Errorf("%w: %w", ErrNoAudio, err)
		}
		return TranscriptionResult{}, fatal("lendo fonte do áudio", err)
	}
	src = html.UnescapeString(strings.TrimSpace(src))
	if src == "" {
		return TranscriptionResult{}, ErrNoAudio
	}

	audio, err := t.fetcher.Fetch(ctx, src)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: download: %w", ErrTranscription, err)
	}
	if len(audio) == 0 {
		return TranscriptionResult{}, fmt.Errorf("%w: áudio vazio", ErrTranscription)
	}

	payload, mime := audio, "audio/mpeg"
	if t.transcoder != nil {
		path, err := t.persist(audio)
		if err != nil {
			return TranscriptionResult{}, fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		defer os.Remove(path)

		payload, mime, err = t.transcoder.Transcode(ctx, path)
		if err != nil {
			return TranscriptionResult{}, fmt.Errorf("%w: conversão: %w", ErrTranscription, err)
		}
	}

	raw, err := t.speech.Transcribe(ctx, payload, mime)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: stt: %w", ErrTranscription, err)
	}
	normalized := Normalize(raw)
	if normalized == "" {
		return TranscriptionResult{}, fmt.Errorf("%w: transcrição vazia", ErrTranscription)
	}

	t.logger.Debug("áudio transcrito",
		zap.String("bruto", raw),
		zap.String("normalizado", normalized),
		zap.String("mime", mime),
		zap.Int("bytes", len(payload)))
	return TranscriptionResult{RawText: raw, NormalizedText: normalized}, nil
}

func (t *Transcriber) persist(audio []byte) (string, error) {
	f, err := os.CreateTemp(t.scratchDir, ScratchPattern)
	if err != nil {
		return "", fmt.Errorf("erro criando arquivo temporário: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("erro gravando áudio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("erro fechando áudio: %w", err)
	}
	return f.Name(), nil
}
