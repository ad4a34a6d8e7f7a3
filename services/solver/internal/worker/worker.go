package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
	"github.com/loviiin/argus-captcha/pkg/captcha"
	"github.com/loviiin/argus-captcha/pkg/metrics"
	"github.com/loviiin/argus-captcha/services/solver/internal/repository"
	"go.uber.org/zap"
)

// SolveJob é o payload recebido do tópico NATS jobs.captcha.solve.
type SolveJob struct {
	JobID   string `json:"job_id"`
	PageURL string `json:"page_url"`
	// Mode sobrescreve solver.mode: "visual", "audio" ou "auto".
	Mode string `json:"mode,omitempty"`
}

// SolveResult é o payload publicado no tópico data.captcha_result.
type SolveResult struct {
	JobID       string    `json:"job_id"`
	PageURL     string    `json:"page_url"`
	Outcome     string    `json:"outcome"`
	Kind        string    `json:"kind,omitempty"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Token       string    `json:"token,omitempty"`
	Rounds      int       `json:"rounds"`
	Reloads     int       `json:"reloads"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	FinishedAt  time.Time `json:"finished_at"`
}

const (
	ModeVisual = "visual"
	ModeAudio  = "audio"
	ModeAuto   = "auto"

	perPageTimeout = 30 * time.Second
	jobWatchdog    = 8 * time.Minute
)

var errQuarantined = errors.New("saída em quarentena")

// LockoutStore é o subconjunto de lockout.Store usado pelo worker.
type LockoutStore interface {
	Active(ctx context.Context, egress string) (bool, error)
	Remaining(ctx context.Context, egress string) (time.Duration, error)
	Mark(ctx context.Context, egress, reason string) error
}

// Counter é o subconjunto de metrics.Recorder usado pelo worker.
type Counter interface {
	Incr(ctx context.Context, key string) error
	Decr(ctx context.Context, key string) error
}

// AttemptStore persiste o desfecho de cada job.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a repository.Attempt) (string, error)
}

// Deps agrupa as dependências do Solver. Lockouts, Counters e Attempts são opcionais.
type Deps struct {
	Browser  *rod.Browser
	Visual   *captcha.VisualController
	Audio    *captcha.AudioController
	Policy   *captcha.Policy
	Mouse    *Mouse
	Mode     string
	// Egress identifica a saída do browser (browser.proxy ou "direct"); todos os
	// jobs deste processo saem por ela.
	Egress   string
	Lockouts LockoutStore
	Counters Counter
	Attempts AttemptStore
	Logger   *zap.Logger
}

// Solver abre a página do job, localiza o reCAPTCHA e aciona os controllers.
type Solver struct {
	Deps
}

func NewSolver(d Deps) *Solver {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Mode == "" {
		d.Mode = ModeAuto
	}
	if d.Mouse == nil {
		d.Mouse = NewMouse(rand.Uint64())
	}
	return &Solver{Deps: d}
}

// Process resolve um job de ponta a ponta. Nunca devolve erro: falhas viram
// SolveResult com Outcome "failed" e a mensagem em Error.
func (s *Solver) Process(ctx context.Context, job SolveJob) SolveResult {
	start := time.Now()
	log := s.Logger.With(zap.String("job_id", job.JobID))

	if s.Lockouts != nil {
		active, err := s.Lockouts.Active(ctx, s.Egress)
		if err != nil {
			log.Warn("erro consultando quarentena", zap.Error(err))
		} else if active {
			remaining, err := s.Lockouts.Remaining(ctx, s.Egress)
			if err != nil {
				log.Warn("erro lendo prazo da quarentena", zap.Error(err))
			}
			log.Info("saída em quarentena, job rejeitado",
				zap.String("egress", s.Egress),
				zap.Duration("restante", remaining))
			return s.finish(ctx, job, captcha.Report{
				Outcome: captcha.OutcomeLockout,
				Err:     fmt.Errorf("%w: %w", captcha.ErrLockout, errQuarantined),
			}, "", start)
		}
	}

	s.count(ctx, metrics.KeyInflight, true)
	defer s.count(ctx, metrics.KeyInflight, false)

	page, err := stealth.Page(s.Browser)
	if err != nil {
		return s.finish(ctx, job, failed(fmt.Errorf("erro criando pagina stealth: %w", err)), "", start)
	}
	defer page.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-time.After(jobWatchdog):
			log.Warn("watchdog: timeout estrito atingido, fechando aba")
			page.Close()
		}
	}()

	page = page.Context(ctx)
	if err := page.Timeout(perPageTimeout).Navigate(job.PageURL); err != nil {
		return s.finish(ctx, job, failed(fmt.Errorf("erro navegando para %s: %w", job.PageURL, err)), "", start)
	}
	page.Timeout(10 * time.Second).WaitLoad()

	if !DetectRecaptcha(page, 10*time.Second) {
		return s.finish(ctx, job, failed(errors.New("reCAPTCHA não encontrado na página")), "", start)
	}

	frame, err := NewRecaptchaFrame(page, s.Mouse, log)
	if err != nil {
		return s.finish(ctx, job, failed(err), "", start)
	}
	report := s.Run(ctx, frame, job)

	token := ""
	if report.Outcome == captcha.OutcomeSolved {
		if token, err = frame.Token(ctx); err != nil {
			log.Warn("erro lendo token", zap.Error(err))
		}
	}
	return s.finish(ctx, job, report, token, start)
}

// AnchorFrame é o frame com o checkbox inicial, implementado por RecaptchaFrame.
type AnchorFrame interface {
	captcha.ChallengeFrame
	ClickAnchor(ctx context.Context) error
	ChallengeVisible(ctx context.Context) (bool, error)
}

// Run clica na âncora e, se um desafio aparecer, resolve conforme o modo.
func (s *Solver) Run(ctx context.Context, frame AnchorFrame, job SolveJob) captcha.Report {
	log := s.Logger.With(zap.String("job_id", job.JobID))

	if err := frame.ClickAnchor(ctx); err != nil {
		return failed(fmt.Errorf("erro clicando na âncora: %w", err))
	}
	if err := s.Policy.Wait(ctx, s.Policy.AfterSubmit); err != nil {
		return failed(fmt.Errorf("aguardando desafio: %w", err))
	}

	// Ou a âncora marca direto, ou o bframe aparece.
	var solved bool
	err := s.Policy.PollUntil(ctx, s.Policy.GridTimeout, func(ctx context.Context) (bool, error) {
		ok, err := frame.Solved(ctx)
		if err != nil || ok {
			solved = ok
			return ok, err
		}
		return frame.ChallengeVisible(ctx)
	})
	if err != nil {
		return failed(fmt.Errorf("desafio não apareceu: %w", err))
	}
	if solved {
		log.Info("âncora marcada sem desafio")
		return captcha.Report{Outcome: captcha.OutcomeSolved}
	}

	mode := job.Mode
	if mode == "" {
		mode = s.Mode
	}
	switch mode {
	case ModeVisual:
		s.count(ctx, metrics.KeyVisual, true)
		return s.Visual.SolveWithReport(ctx, frame)
	case ModeAudio:
		s.count(ctx, metrics.KeyAudio, true)
		return s.Audio.SolveWithReport(ctx, frame)
	default:
		s.count(ctx, metrics.KeyVisual, true)
		report := s.Visual.SolveWithReport(ctx, frame)
		if report.Outcome != captcha.OutcomeFailed || ctx.Err() != nil {
			return report
		}
		log.Info("modo visual falhou, tentando áudio", zap.Error(report.Err))
		s.count(ctx, metrics.KeyAudio, true)
		audio := s.Audio.SolveWithReport(ctx, frame)
		audio.Rounds += report.Rounds
		audio.Reloads += report.Reloads
		return audio
	}
}

func failed(err error) captcha.Report {
	return captcha.Report{Outcome: captcha.OutcomeFailed, Err: err}
}

func (s *Solver) count(ctx context.Context, key string, up bool) {
	if s.Counters == nil {
		return
	}
	var err error
	if up {
		err = s.Counters.Incr(ctx, key)
	} else {
		err = s.Counters.Decr(ctx, key)
	}
	if err != nil {
		s.Logger.Warn("erro atualizando métrica", zap.String("chave", key), zap.Error(err))
	}
}

// finish converte o Report em SolveResult e registra quarentena, métricas e histórico.
func (s *Solver) finish(ctx context.Context, job SolveJob, report captcha.Report, token string, start time.Time) SolveResult {
	res := SolveResult{
		JobID:       job.JobID,
		PageURL:     job.PageURL,
		Outcome:     report.Outcome.String(),
		ChallengeID: report.ChallengeID,
		Token:       token,
		Rounds:      report.Rounds,
		Reloads:     report.Reloads,
		DurationMs:  time.Since(start).Milliseconds(),
		FinishedAt:  time.Now(),
	}
	if report.ChallengeID != "" {
		res.Kind = report.Kind.String()
	}
	if report.Err != nil {
		res.Error = report.Err.Error()
	}

	switch report.Outcome {
	case captcha.OutcomeSolved:
		s.count(ctx, metrics.KeySolved, true)
	case captcha.OutcomeLockout:
		s.count(ctx, metrics.KeyLockout, true)
		// Job rejeitado por quarentena já existente não renova o prazo.
		if s.Lockouts != nil && !errors.Is(report.Err, errQuarantined) {
			if err := s.Lockouts.Mark(ctx, s.Egress, res.Error); err != nil {
				s.Logger.Warn("erro marcando quarentena", zap.Error(err))
			}
		}
	default:
		s.count(ctx, metrics.KeyFailed, true)
	}

	if s.Attempts != nil {
		_, err := s.Attempts.SaveAttempt(ctx, repository.Attempt{
			JobID:       job.JobID,
			PageURL:     job.PageURL,
			Egress:      s.Egress,
			Kind:        res.Kind,
			Outcome:     res.Outcome,
			ChallengeID: res.ChallengeID,
			Rounds:      res.Rounds,
			Reloads:     res.Reloads,
			Error:       res.Error,
			Duration:    time.Duration(res.DurationMs) * time.Millisecond,
		})
		if err != nil {
			s.Logger.Warn("erro salvando tentativa", zap.Error(err))
		}
	}

	s.Logger.Info("job finalizado",
		zap.String("job_id", job.JobID),
		zap.String("outcome", res.Outcome),
		zap.String("challenge_id", res.ChallengeID),
		zap.Int("rounds", res.Rounds),
		zap.Int64("duração_ms", res.DurationMs))
	return res
}

// RandomDelay aplica um delay aleatório entre min e max segundos.
func RandomDelay(ctx context.Context, minSec, maxSec int, logger *zap.Logger) {
	if maxSec < minSec {
		maxSec = minSec
	}
	delay := time.Duration(rand.IntN(maxSec-minSec+1)+minSec) * time.Second
	logger.Debug("delay anti-rate-limit", zap.Duration("delay", delay))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
