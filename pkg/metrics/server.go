package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MetricDef define o mapeamento entre uma chave Redis e uma métrica Prometheus.
type MetricDef struct {
	RedisKey string
	PromName string
	Help     string
	Type     string // "counter" ou "gauge"
}

const (
	KeySolved   = "argus:metrics:captcha_solved"
	KeyFailed   = "argus:metrics:captcha_failed"
	KeyLockout  = "argus:metrics:captcha_lockout"
	KeyVisual   = "argus:metrics:captcha_visual_attempts"
	KeyAudio    = "argus:metrics:captcha_audio_attempts"
	KeyInflight = "argus:metrics:captcha_inflight"
)

// SolverMetrics são os contadores publicados pelo worker de captcha.
var SolverMetrics = []MetricDef{
	{KeySolved, "argus_captcha_solved_total", "Desafios resolvidos", "counter"},
	{KeyFailed, "argus_captcha_failed_total", "Desafios que terminaram em falha", "counter"},
	{KeyLockout, "argus_captcha_lockout_total", "Bloqueios de tráfego automatizado", "counter"},
	{KeyVisual, "argus_captcha_visual_attempts_total", "Tentativas pelo modo visual", "counter"},
	{KeyAudio, "argus_captcha_audio_attempts_total", "Tentativas pelo modo de áudio", "counter"},
	{KeyInflight, "argus_captcha_inflight", "Desafios em andamento", "gauge"},
}

// Recorder incrementa os contadores no Redis, compartilhados entre workers.
type Recorder struct {
	rdb *redis.Client
}

func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb}
}

func (r *Recorder) Incr(ctx context.Context, key string) error {
	return r.rdb.Incr(ctx, key).Err()
}

func (r *Recorder) Decr(ctx context.Context, key string) error {
	return r.rdb.Decr(ctx, key).Err()
}

// Render escreve as métricas no formato texto do Prometheus.
func Render(ctx context.Context, rdb *redis.Client, defs []MetricDef, logger *zap.Logger) string {
	var b strings.Builder
	for _, m := range defs {
		val, err := rdb.Get(ctx, m.RedisKey).Result()
		if errors.Is(err, redis.Nil) {
			val = "0"
		} else if err != nil {
			logger.Warn("erro ao ler chave de métrica", zap.String("chave", m.RedisKey), zap.Error(err))
			val = "0"
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", m.PromName, m.Help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", m.PromName, m.Type)
		fmt.Fprintf(&b, "%s %s\n\n", m.PromName, val)
	}
	return b.String()
}

// NewServer monta as rotas /metrics e /healthz.
func NewServer(rdb *redis.Client, defs []MetricDef, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", func(c echo.Context) error {
		body := Render(c.Request().Context(), rdb, defs, logger)
		return c.String(http.StatusOK, body)
	})
	e.GET("/healthz", func(c echo.Context) error {
		if err := rdb.Ping(c.Request().Context()).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis indisponível"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

// StartMetricsServer sobe o servidor e bloqueia até ele parar.
func StartMetricsServer(port string, rdb *redis.Client, defs []MetricDef, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := NewServer(rdb, defs, logger)
	logger.Info("metrics server ouvindo", zap.String("endereço", port+"/metrics"))
	if err := e.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics: falha ao iniciar servidor", zap.Error(err))
	}
}
