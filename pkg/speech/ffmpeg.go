package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FFmpeg converte o MP3 do desafio em FLAC mono, o formato aceito pelo endpoint v2.
type FFmpeg struct {
	bin    string
	rate   int
	logger *zap.Logger
}

func NewFFmpeg(bin string, rate int, logger *zap.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if rate <= 0 {
		rate = 16000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{bin: bin, rate: rate, logger: logger}
}

// Mime é o Content-Type que acompanha a saída de Transcode.
func (f *FFmpeg) Mime() string {
	return fmt.Sprintf("audio/x-flac; rate=%d", f.rate)
}

func (f *FFmpeg) args(path string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(f.rate),
		"-f", "flac",
		"pipe:1",
	}
}

// Transcode lê path e devolve o FLAC gerado pelo ffmpeg via stdout.
func (f *FFmpeg) Transcode(ctx context.Context, path string) ([]byte, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, f.args(path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("ffmpeg falhou: %w: %s", err, truncate(strings.TrimSpace(stderr.String()), 200))
	}
	if stdout.Len() == 0 {
		return nil, "", errors.New("ffmpeg não gerou áudio")
	}
	f.logger.Debug("áudio convertido",
		zap.Duration("duração", time.Since(start)),
		zap.Int("bytes", stdout.Len()))
	return stdout.Bytes(), f.Mime(), nil
}
