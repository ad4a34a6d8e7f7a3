package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSweeperLogic(t *testing.T) {
	tempDir := t.TempDir()
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	activeProfile := filepath.Join(tempDir, "argus_profile_active123")
	orphanProfile := filepath.Join(tempDir, "argus_profile_orphan456")
	unrelatedFolder := filepath.Join(tempDir, "some_other_folder")
	for _, dir := range []string{activeProfile, orphanProfile, unrelatedFolder} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatalf("Erro criando pasta mock: %v", err)
		}
	}

	freshAudio := filepath.Join(tempDir, "argus_audio_111.mp3")
	staleAudio := filepath.Join(tempDir, "argus_audio_222.mp3")
	unrelatedFile := filepath.Join(tempDir, "notes.mp3")
	for _, f := range []string{freshAudio, staleAudio, unrelatedFile} {
		if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
			t.Fatalf("Erro criando arquivo mock: %v", err)
		}
	}

	times := map[string]time.Time{
		activeProfile:   recent,
		orphanProfile:   old,
		unrelatedFolder: old,
		freshAudio:      now.Add(-5 * time.Minute),
		staleAudio:      now.Add(-45 * time.Minute),
		unrelatedFile:   old,
	}
	for path, ts := range times {
		if err := os.Chtimes(path, ts, ts); err != nil {
			t.Fatalf("Erro mockando tempo de %s: %v", path, err)
		}
	}

	removed := sweep(tempDir, 90*time.Minute, 30*time.Minute, zap.NewNop())
	if removed != 2 {
		t.Errorf("esperado 2 removidos, veio %d", removed)
	}

	for _, keep := range []string{activeProfile, unrelatedFolder, freshAudio, unrelatedFile} {
		if _, err := os.Stat(keep); os.IsNotExist(err) {
			t.Errorf("O Sweeper apagou %s", keep)
		}
	}
	for _, gone := range []string{orphanProfile, staleAudio} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("O Sweeper não apagou %s", gone)
		}
	}
}
