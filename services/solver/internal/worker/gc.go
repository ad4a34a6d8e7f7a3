package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loviiin/argus-captcha/pkg/captcha"
	"go.uber.org/zap"
)

const (
	ProfilePrefix    = "argus_profile_"
	orphanProfileTTL = 90 * time.Minute
	sweepInterval    = 15 * time.Minute
)

var audioPrefix = strings.TrimSuffix(captcha.ScratchPattern, "*.mp3")

// StartSweeper remove periodicamente perfis de browser órfãos e clipes de
// áudio que ficaram para trás após um crash do worker.
func StartSweeper(ctx context.Context, dir string, audioTTL time.Duration, logger *zap.Logger) {
	logger.Info("iniciando sweeper de arquivos temporários", zap.String("dir", dir))
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(dir, orphanProfileTTL, audioTTL, logger)
		}
	}
}

// sweep contém a lógica principal isolada para facilitar testes unitários
func sweep(baseDir string, profileTTL, audioTTL time.Duration, logger *zap.Logger) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Warn("erro lendo diretório base", zap.String("dir", baseDir), zap.Error(err))
		return 0
	}

	removed := 0
	now := time.Now()

	for _, entry := range entries {
		name := entry.Name()
		var ttl time.Duration
		switch {
		case entry.IsDir() && strings.HasPrefix(name, ProfilePrefix):
			ttl = profileTTL
		case !entry.IsDir() && strings.HasPrefix(name, audioPrefix):
			ttl = audioTTL
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}

		fullPath := filepath.Join(baseDir, name)
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Warn("erro removendo órfão", zap.String("path", fullPath), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("sweeper removeu órfãos", zap.Int("removidos", removed))
	}
	return removed
}
