package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults inválidos: %v", err)
	}
	if cfg.Captcha.StaticConfidence != 0.25 || cfg.Captcha.DynamicConfidence != 0.15 || cfg.Captcha.MinOverlap != 0.04 {
		t.Errorf("limiares padrão = %+v", cfg.Captcha)
	}
	// O provedor padrão não aceita MP3.
	if cfg.Speech.Provider != "http" || cfg.Speech.Transcode != "flac" || cfg.Speech.SampleRate != 16000 || cfg.Speech.APIKey == "" {
		t.Errorf("speech padrão = %+v", cfg.Speech)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: dev
captcha:
  static_confidence: 0.3
  max_reloads: 4
solver:
  mode: visual
`)
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("AUDIO_PROXY", "http://proxy:8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.App.Env != "dev" || cfg.Captcha.StaticConfidence != 0.3 || cfg.Captcha.MaxReloads != 4 {
		t.Errorf("valores do arquivo não aplicados: %+v", cfg.Captcha)
	}
	// Campos ausentes mantêm o default.
	if cfg.Captcha.DynamicConfidence != 0.15 || cfg.Captcha.MaxRounds != 30 {
		t.Errorf("default perdido: %+v", cfg.Captcha)
	}
	if cfg.Nats.URL != "nats://nats:4222" || cfg.Download.Proxy != "http://proxy:8080" {
		t.Errorf("override de ambiente não aplicado: nats=%q proxy=%q", cfg.Nats.URL, cfg.Download.Proxy)
	}
	if cfg.Solver.Mode != "visual" {
		t.Errorf("solver.mode = %q", cfg.Solver.Mode)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"confiança acima de 1", "captcha:\n  static_confidence: 1.5\n", "static_confidence"},
		{"modo desconhecido", "solver:\n  mode: manual\n", "solver.mode"},
		{"atraso invertido", "captcha:\n  click_delay_min_ms: 500\n  click_delay_max_ms: 100\n", "intervalo"},
		{"detector desconhecido", "detector:\n  mode: gpu\n", "detector.mode"},
		{"timeout do detector zerado", "detector:\n  timeout_seconds: 0\n", "detector.timeout_seconds"},
		{"conversão desconhecida", "speech:\n  transcode: wav\n", "speech.transcode"},
		{"flac sem taxa", "speech:\n  sample_rate: 0\n", "sample_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("esperado erro com %q, veio %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("arquivo ausente deveria falhar")
	}
}
