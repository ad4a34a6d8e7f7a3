package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// AudioController resolve o desafio pela alternativa de áudio.
type AudioController struct {
	transcriber *Transcriber
	policy      *Policy
	logger      *zap.Logger
}

func NewAudioController(transcriber *Transcriber, policy *Policy, logger *zap.Logger) *AudioController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &AudioController{transcriber: transcriber, policy: policy, logger: logger}
}

func (c *AudioController) Solve(ctx context.Context, frame ChallengeFrame) (Outcome, error) {
	r := c.SolveWithReport(ctx, frame)
	return r.Outcome, r.Err
}

func (c *AudioController) SolveWithReport(ctx context.Context, frame ChallengeFrame) Report {
	if c.policy.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.MaxDuration)
		defer cancel()
	}

	ch := newChallenge(KindAudio)
	attempts := NewBudget("tentativas de áudio", c.policy.MaxAudioAttempts)
	reloads := 0
	log := c.logger.With(zap.String("challenge_id", ch.ID), zap.String("kind", "audio"))

	outcome, err := c.loop(ctx, frame, attempts, &reloads, log)
	log.Info("desafio de áudio encerrado",
		zap.String("outcome", outcome.String()),
		zap.Int("tentativas", attempts.Used()),
		zap.Int("reloads", reloads),
		zap.Error(err))

	return Report{
		ChallengeID: ch.ID,
		Kind:        KindAudio,
		Outcome:     outcome,
		Err:         err,
		Rounds:      attempts.Used(),
		Reloads:     reloads,
	}
}

func (c *AudioController) loop(ctx context.Context, frame ChallengeFrame, attempts *Budget, reloads *int, log *zap.Logger) (Outcome, error) {
	reload := func() error {
		*reloads++
		if err := frame.ClickReload(ctx); err != nil && !IsMissing(err) {
			return fatal("recarregando áudio", err)
		}
		return waitFailure(c.policy.Wait(ctx, c.policy.AfterReload))
	}

	for attempts.Take() {
		attempt := attempts.Used()

		// AwaitingChallenge
		if outcome, done, err := checkTerminal(ctx, frame); done {
			return outcome, err
		}

		// SwitchToAudio
		audio, err := frame.AudioMode(ctx)
		if err != nil && !IsMissing(err) {
			return OutcomeFailed, fatal("verificando modo áudio", err)
		}
		if !audio {
			if err := frame.SwitchToAudio(ctx); err != nil {
				if !IsMissing(err) {
					return OutcomeFailed, fatal("trocando para áudio", err)
				}
				log.Debug("botão de áudio ausente", zap.Int("tentativa", attempt))
			}
			if err := c.policy.WaitJitter(ctx, c.policy.SwitchDelay); err != nil {
				return OutcomeFailed, waitFailure(err)
			}
		}

		// CheckLockout
		if outcome, done, err := checkLockout(ctx, frame); done {
			return outcome, err
		}

		// Fetching + Transcribing
		result, err := c.transcriber.Transcribe(ctx, frame)
		if err != nil {
			if errors.Is(err, ErrNoAudio) || errors.Is(err, ErrTranscription) {
				if ctx.Err() != nil {
					return OutcomeFailed, waitFailure(ctx.Err())
				}
				log.Info("transcrição falhou, pedindo outro áudio", zap.Int("tentativa", attempt), zap.Error(err))
				if err := reload(); err != nil {
					return OutcomeFailed, err
				}
				continue
			}
			return OutcomeFailed, err
		}
		log.Info("resposta do áudio", zap.String("resposta", result.NormalizedText), zap.Int("tentativa", attempt))

		// Typing
		if err := c.typeAnswer(ctx, frame, result.NormalizedText); err != nil {
			return OutcomeFailed, err
		}

		// Submitting
		if err := frame.ClickVerify(ctx); err != nil && !IsMissing(err) {
			return OutcomeFailed, fatal("clicando verificar", err)
		}
		if err := c.policy.Wait(ctx, c.policy.AfterSubmit); err != nil {
			return OutcomeFailed, waitFailure(err)
		}

		// Verifying: só navegação ou sumiço do frame contam como sucesso.
		err = c.policy.PollUntil(ctx, c.policy.VerifyTimeout, frame.Solved)
		if err == nil {
			return OutcomeSolved, nil
		}
		if !errors.Is(err, ErrTimeout) {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return OutcomeFailed, waitFailure(err)
			}
			return OutcomeFailed, fatal("verificando solução", err)
		}
		if outcome, done, err := checkLockout(ctx, frame); done {
			return outcome, err
		}

		wrong, err := frame.AnswerErrorVisible(ctx)
		if err != nil && !IsMissing(err) {
			return OutcomeFailed, fatal("lendo banner de erro", err)
		}
		if wrong {
			log.Info("resposta incorreta, recarregando", zap.Int("tentativa", attempt))
			if err := reload(); err != nil {
				return OutcomeFailed, err
			}
			continue
		}
		log.Info("verificação inconclusiva", zap.Int("tentativa", attempt))
	}
	return OutcomeFailed, attempts.Err()
}

func (c *AudioController) typeAnswer(ctx context.Context, frame ChallengeFrame, answer string) error {
	if err := frame.ClearAnswer(ctx); err != nil && !IsMissing(err) {
		return fatal("limpando resposta", err)
	}
	for _, r := range answer {
		if err := frame.TypeAnswer(ctx, string(r)); err != nil {
			if IsMissing(err) {
				return fmt.Errorf("%w: campo de resposta sumiu", ErrTimeout)
			}
			return fatal("digitando resposta", err)
		}
		if err := c.policy.WaitJitter(ctx, c.policy.KeyDelay); err != nil {
			return waitFailure(err)
		}
	}
	return nil
}
