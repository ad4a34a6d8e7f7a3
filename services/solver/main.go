package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loviiin/argus-captcha/pkg/captcha"
	"github.com/loviiin/argus-captcha/pkg/config"
	"github.com/loviiin/argus-captcha/pkg/detect"
	"github.com/loviiin/argus-captcha/pkg/lockout"
	"github.com/loviiin/argus-captcha/pkg/metrics"
	"github.com/loviiin/argus-captcha/pkg/speech"
	"github.com/loviiin/argus-captcha/services/solver/internal/repository"
	"github.com/loviiin/argus-captcha/services/solver/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	jobSubject    = "jobs.captcha.solve"
	resultSubject = "data.captcha_result"
)

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "erro criando logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func main() {
	cfg := config.LoadConfig()
	logger := newLogger(cfg.App.Env)
	defer logger.Sync()

	logger.Info("Argus Captcha Solver iniciando...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("sinal recebido, encerrando solver")
		cancel()
	}()

	// --- NATS (opcional no modo one-shot com detector e stt locais) ---
	var nc *nats.Conn
	needsNats := os.Getenv("SOLVE_URL") == "" || cfg.Detector.Mode == "remote" || cfg.Speech.Provider == "remote"
	if needsNats {
		var err error
		nc, err = nats.Connect(cfg.Nats.URL)
		if err != nil {
			logger.Fatal("erro NATS", zap.Error(err))
		}
		defer nc.Close()
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	redisUp := rdb.Ping(ctx).Err() == nil
	if !redisUp {
		logger.Warn("redis não responde, seguindo sem quarentena e métricas", zap.String("endereço", cfg.Redis.Address))
	}

	// --- Detector ---
	var model captcha.DetectionModel
	if cfg.Detector.Mode == "remote" {
		model = detect.NewRemote(nc, cfg.Detector.Subject, time.Duration(cfg.Detector.TimeoutSeconds)*time.Second)
	} else {
		yolo, err := detect.NewYOLO(detect.Options{
			ModelPath:   cfg.Detector.ModelPath,
			LibraryPath: cfg.Detector.LibraryPath,
			InputSize:   cfg.Detector.InputSize,
			MinScore:    cfg.Detector.MinScore,
			IoU:         cfg.Detector.IoU,
			Enhance:     cfg.Detector.Enhance,
		}, logger)
		if err != nil {
			logger.Fatal("erro carregando modelo", zap.Error(err))
		}
		defer yolo.Close()
		model = yolo
	}

	// --- Speech ---
	var stt captcha.SpeechClient
	if cfg.Speech.Provider == "remote" {
		stt = speech.NewRemote(nc, cfg.Speech.Subject, cfg.Speech.Language, time.Duration(cfg.Speech.TimeoutSeconds)*time.Second)
	} else {
		stt = speech.NewHTTPClient(speech.HTTPOptions{
			Endpoint:   cfg.Speech.Endpoint,
			APIKey:     cfg.Speech.APIKey,
			Language:   cfg.Speech.Language,
			AuthHeader: cfg.Speech.AuthHeader,
			AuthPrefix: cfg.Speech.AuthPrefix,
			Timeout:    time.Duration(cfg.Speech.TimeoutSeconds) * time.Second,
		}, logger)
	}
	fetcher, err := speech.NewFetcher(speech.FetcherOptions{
		TimeoutSeconds: cfg.Download.TimeoutSeconds,
		UserAgent:      cfg.Download.UserAgent,
		Referer:        cfg.Download.Referer,
		Proxy:          cfg.Download.Proxy,
	}, logger)
	if err != nil {
		logger.Fatal("erro criando fetcher de áudio", zap.Error(err))
	}

	// --- Controllers ---
	var samples captcha.SampleSink
	if cfg.Captcha.SampleDir != "" {
		collector, err := captcha.NewSampleCollector(cfg.Captcha.SampleDir, logger)
		if err != nil {
			logger.Fatal("erro preparando diretório de amostras", zap.Error(err))
		}
		samples = collector
	}
	policy := worker.PolicyFromConfig(cfg.Captcha)
	resolver := captcha.NewResolver(model, cfg.Captcha.MinOverlap)
	visual := captcha.NewVisualController(resolver, policy, worker.VisualOptionsFromConfig(cfg.Captcha, samples), logger)
	transcriber := captcha.NewTranscriber(fetcher, stt, cfg.Download.ScratchDir, logger)
	if cfg.Speech.Transcode == "flac" {
		transcriber.WithTranscoder(speech.NewFFmpeg(cfg.Speech.FFmpegBin, cfg.Speech.SampleRate, logger))
	}
	audio := captcha.NewAudioController(transcriber, policy, logger)

	// --- Browser ---
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "1"
	}
	browser, closeBrowser, err := worker.NewBrowser(worker.BrowserOptions{
		StateDir:  cfg.Browser.StateDir,
		DebugPort: debugPort(cfg.Browser.DebugPort),
		Headless:  cfg.Browser.Headless,
		Bin:       cfg.Browser.Bin,
		Proxy:     cfg.Browser.Proxy,
	}, logger)
	if err != nil {
		logger.Fatal("erro ao iniciar browser", zap.Error(err))
	}
	defer closeBrowser()

	deps := worker.Deps{
		Browser: browser,
		Visual:  visual,
		Audio:   audio,
		Policy:  policy,
		Mode:    cfg.Solver.Mode,
		Egress:  egressName(cfg),
		Logger:  logger,
	}
	if redisUp {
		deps.Lockouts = lockout.NewStore(rdb, time.Duration(cfg.Captcha.LockoutTTLMinutes)*time.Minute)
		deps.Counters = metrics.NewRecorder(rdb)
		go metrics.StartMetricsServer(cfg.Metrics.Port, rdb, metrics.SolverMetrics, logger)
	}
	if cfg.Database.URL != "" {
		repo, err := repository.NewAttemptRepository(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Warn("postgres indisponível, tentativas não serão persistidas", zap.Error(err))
		} else {
			defer repo.Close(context.Background())
			deps.Attempts = repo
		}
	}
	solver := worker.NewSolver(deps)

	go worker.StartSweeper(ctx, cfg.Download.ScratchDir,
		time.Duration(cfg.Solver.ScratchTTLMinutes)*time.Minute, logger)

	// --- One-shot ---
	if url := os.Getenv("SOLVE_URL"); url != "" {
		res := solver.Process(ctx, worker.SolveJob{JobID: uuid.NewString(), PageURL: url})
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		if res.Outcome != captcha.OutcomeSolved.String() {
			os.Exit(1)
		}
		return
	}

	if err := consume(ctx, nc, solver, cfg, workerID, logger); err != nil {
		logger.Fatal("consumidor encerrou com erro", zap.Error(err))
	}
}

func debugPort(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

func egressName(cfg *config.Config) string {
	if cfg.Browser.Proxy != "" {
		return cfg.Browser.Proxy
	}
	return "direct"
}

// consume processa jobs.captcha.solve sequencialmente: um browser, um job por vez.
func consume(ctx context.Context, nc *nats.Conn, solver *worker.Solver, cfg *config.Config, workerID string, logger *zap.Logger) error {
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("erro JetStream: %w", err)
	}

	// Garante que os streams existam
	for _, sc := range []nats.StreamConfig{
		{Name: "CAPTCHA", Subjects: []string{jobSubject}, Storage: nats.FileStorage},
		{Name: "CAPTCHA_RESULTS", Subjects: []string{resultSubject}, Storage: nats.FileStorage},
	} {
		if _, err := js.AddStream(&sc); err != nil {
			logger.Debug("stream já existe ou não pôde ser criado", zap.String("stream", sc.Name), zap.Error(err))
		}
	}

	// Todos os workers usam o mesmo durable para dividir a fila.
	ackWait := time.Duration(cfg.Solver.AckWaitMinutes) * time.Minute
	sub, err := js.PullSubscribe(jobSubject, "captcha-solver-group", nats.AckWait(ackWait))
	if err != nil {
		return fmt.Errorf("erro ao criar pull subscriber: %w", err)
	}
	defer sub.Unsubscribe()

	log := logger.With(zap.String("worker", workerID))
	log.Info("solver consumindo jobs", zap.String("subject", jobSubject))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(10*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue // Nenhuma mensagem na fila
			}
			log.Warn("erro no fetch", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}

		msg := msgs[0]
		var job worker.SolveJob
		if err := json.Unmarshal(msg.Data, &job); err != nil || job.PageURL == "" {
			log.Error("job inválido, descartando", zap.Error(err))
			msg.Term()
			continue
		}
		if job.JobID == "" {
			job.JobID = uuid.NewString()
		}

		log.Info("job recebido", zap.String("job_id", job.JobID), zap.String("url", job.PageURL))
		msg.InProgress()

		res := solver.Process(ctx, job)
		data, err := json.Marshal(res)
		if err != nil {
			log.Error("erro serializando resultado", zap.String("job_id", job.JobID), zap.Error(err))
			msg.Nak()
			continue
		}
		if _, err := js.Publish(resultSubject, data); err != nil {
			log.Error("erro publicando resultado", zap.String("job_id", job.JobID), zap.Error(err))
			// Devolve para a fila usando Nak
			msg.Nak()
			continue
		}

		// Ack mesmo em falha: o resultado já foi publicado e quem chamou decide se reenfileira.
		msg.Ack()
		log.Info("resultado publicado", zap.String("job_id", job.JobID), zap.String("outcome", res.Outcome))

		// Delay anti-rate-limit entre jobs
		worker.RandomDelay(ctx, cfg.Solver.JobDelayMin, cfg.Solver.JobDelayMax, logger)
	}
}
