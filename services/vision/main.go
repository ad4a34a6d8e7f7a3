package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loviiin/argus-captcha/pkg/config"
	"github.com/loviiin/argus-captcha/pkg/detect"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Serviço de visão: carrega o modelo uma vez e responde detecções via NATS,
// para que vários solvers compartilhem a mesma GPU/CPU.
func main() {
	cfg := config.LoadConfig()

	var logger *zap.Logger
	var err error
	if cfg.App.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "erro criando logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

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

	nc, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		logger.Fatal("erro NATS", zap.Error(err))
	}
	defer nc.Drain()

	timeout := time.Duration(cfg.Detector.TimeoutSeconds) * time.Second
	sub, err := detect.Serve(nc, cfg.Detector.Subject, "vision-workers", yolo, timeout, logger)
	if err != nil {
		logger.Fatal("erro assinando tópico de detecção", zap.Error(err))
	}
	defer sub.Unsubscribe()

	logger.Info("vision service pronto", zap.String("subject", sub.Subject), zap.String("modelo", cfg.Detector.ModelPath))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("sinal recebido, encerrando vision service")
}
