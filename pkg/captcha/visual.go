package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// VisualOptions são os limiares de confiança por modo.
type VisualOptions struct {
	StaticConfidence  float64
	DynamicConfidence float64
	// Samples, quando não nil, recebe cada rodada de detecção.
	Samples SampleSink
}

// VisualController resolve o desafio de grid de imagens.
type VisualController struct {
	resolver *Resolver
	policy   *Policy
	opts     VisualOptions
	logger   *zap.Logger
}

func NewVisualController(resolver *Resolver, policy *Policy, opts VisualOptions, logger *zap.Logger) *VisualController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if opts.StaticConfidence <= 0 {
		opts.StaticConfidence = 0.25
	}
	if opts.DynamicConfidence <= 0 {
		opts.DynamicConfidence = 0.15
	}
	return &VisualController{resolver: resolver, policy: policy, opts: opts, logger: logger}
}

// Threshold devolve o limiar de confiança do modo: mais frouxo no dinâmico para
// não travar o loop, mais rígido no estático para não selecionar demais.
func (c *VisualController) Threshold(mode Mode) float64 {
	if mode == ModeDynamic {
		return c.opts.DynamicConfidence
	}
	return c.opts.StaticConfidence
}

func (c *VisualController) Solve(ctx context.Context, frame ChallengeFrame) (Outcome, error) {
	r := c.SolveWithReport(ctx, frame)
	return r.Outcome, r.Err
}

// visualRun carrega o estado de uma chamada de Solve.
type visualRun struct {
	ch       *Challenge
	rounds   *Budget
	reloads  *Budget
	verifies *Budget
	log      *zap.Logger
	// pending conta tiles do modo estático clicados e ainda não enviados.
	pending int
}

func (c *VisualController) SolveWithReport(ctx context.Context, frame ChallengeFrame) Report {
	if c.policy.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.MaxDuration)
		defer cancel()
	}

	run := &visualRun{
		ch:       newChallenge(KindVisual),
		rounds:   NewBudget("rodadas", c.policy.MaxRounds),
		reloads:  NewBudget("reloads", c.policy.MaxReloads),
		verifies: NewBudget("verificações", c.policy.MaxVerifyRetries),
	}
	run.log = c.logger.With(zap.String("challenge_id", run.ch.ID), zap.String("kind", "visual"))

	outcome, err := c.loop(ctx, frame, run)
	run.log.Info("desafio visual encerrado",
		zap.String("outcome", outcome.String()),
		zap.Int("rodadas", run.rounds.Used()),
		zap.Int("reloads", run.reloads.Used()),
		zap.Error(err))

	return Report{
		ChallengeID: run.ch.ID,
		Kind:        KindVisual,
		Outcome:     outcome,
		Err:         err,
		Rounds:      run.rounds.Used(),
		Reloads:     run.reloads.Used(),
	}
}

func (c *VisualController) loop(ctx context.Context, frame ChallengeFrame, run *visualRun) (Outcome, error) {
	ch := run.ch
	for {
		if !run.rounds.Take() {
			return OutcomeFailed, run.rounds.Err()
		}
		round := run.rounds.Used()

		if outcome, done, err := checkTerminal(ctx, frame); done {
			return outcome, err
		}

		// AwaitingImage
		if err := c.policy.PollUntil(ctx, c.policy.GridTimeout, frame.GridReady); err != nil {
			if outcome, done, terr := checkTerminal(ctx, frame); done {
				return outcome, terr
			}
			if errors.Is(err, ErrTimeout) {
				return OutcomeFailed, fmt.Errorf("grid não renderizou: %w", err)
			}
			return OutcomeFailed, c.probeFailure("aguardando grid", err)
		}

		// Classifying
		prompt, err := frame.PromptText(ctx)
		if err != nil {
			if IsMissing(err) {
				continue
			}
			return OutcomeFailed, fatal("lendo prompt", err)
		}
		cls := Classify(prompt)
		if key := cls.LabelKey(); key != ch.labelsKey {
			if ch.labelsKey != "" {
				c.renew(run, "categoria mudou: "+ch.labelsKey+" -> "+key)
			}
			ch.labelsKey = key
		}
		ch.PromptText = prompt
		ch.Mode = cls.Mode

		if cls.Unsupported {
			run.log.Info("desafio não suportado, pedindo outro", zap.String("prompt", prompt))
			if err := c.reload(ctx, frame, run); err != nil {
				return OutcomeFailed, fmt.Errorf("%w: %w", ErrUnsupportedChallenge, err)
			}
			continue
		}

		// Detecting
		tiles, err := frame.TileCount(ctx)
		if err != nil {
			if IsMissing(err) {
				continue
			}
			return OutcomeFailed, fatal("contando tiles", err)
		}
		ch.GridSize = GridSizeForTiles(tiles)

		shot, err := frame.GridImage(ctx)
		if err != nil {
			if IsMissing(err) {
				continue
			}
			return OutcomeFailed, fatal("capturando grid", err)
		}
		img, err := NewChallengeImage(shot)
		if err != nil {
			run.log.Warn("screenshot ilegível", zap.Error(err))
			continue
		}

		hits, kept, err := c.resolver.Resolve(ctx, img, ch.GridSize, cls.Labels, c.Threshold(ch.Mode))
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeFailed, waitFailure(ctx.Err())
			}
			return OutcomeFailed, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		c.collect(ctx, run, img, cls, hits, kept)

		// Planning
		plan := ch.Plan(hits)
		run.log.Debug("rodada",
			zap.Int("rodada", round),
			zap.String("mode", ch.Mode.String()),
			zap.Strings("labels", cls.Labels),
			zap.Ints("hits", hits),
			zap.Ints("plano", plan))

		// Clicking
		if err := c.clickPlan(ctx, frame, run, plan); err != nil {
			return OutcomeFailed, err
		}

		// DynamicWait
		if ch.Mode == ModeDynamic && len(plan) > 0 {
			if err := c.policy.Wait(ctx, c.policy.SettleDelay); err != nil {
				return OutcomeFailed, waitFailure(err)
			}
			continue
		}

		// StaticSubmit / DynamicWait vazio
		outcome, done, err := c.submit(ctx, frame, run, run.pending == 0)
		if done {
			return outcome, err
		}
	}
}

func (c *VisualController) clickPlan(ctx context.Context, frame ChallengeFrame, run *visualRun, plan []int) error {
	ch := run.ch
	order := append([]int(nil), plan...)
	c.policy.Shuffle(order)
	for i, idx := range order {
		if err := frame.ClickTile(ctx, idx); err != nil {
			if IsMissing(err) {
				continue
			}
			return fatal(fmt.Sprintf("clicando tile %d", idx), err)
		}
		ch.Record(idx)
		if ch.Mode == ModeStatic {
			run.pending++
		}
		if i < len(order)-1 {
			if err := c.policy.WaitJitter(ctx, c.policy.ClickDelay); err != nil {
				return waitFailure(err)
			}
		}
	}
	return nil
}

// submit clica em verificar e decide entre resolvido, retry, beco sem saída ou falha.
func (c *VisualController) submit(ctx context.Context, frame ChallengeFrame, run *visualRun, nothingClicked bool) (Outcome, bool, error) {
	if err := frame.ClickVerify(ctx); err != nil {
		if !IsMissing(err) {
			return OutcomeFailed, true, fatal("clicando verificar", err)
		}
		// Nada foi enviado: os tiles continuam marcados e o histórico vale.
		run.log.Debug("botão verificar ausente, nova rodada sem envio")
		if err := c.policy.Wait(ctx, c.policy.PollInterval); err != nil {
			return OutcomeFailed, true, waitFailure(err)
		}
		return OutcomeFailed, false, nil
	}
	run.pending = 0
	if err := c.policy.Wait(ctx, c.policy.AfterSubmit); err != nil {
		return OutcomeFailed, true, waitFailure(err)
	}

	// Verifying
	if outcome, done, err := checkTerminal(ctx, frame); done {
		return outcome, true, err
	}

	incorrect, err := frame.IncorrectVisible(ctx)
	if err != nil && !IsMissing(err) {
		return OutcomeFailed, true, fatal("lendo banner de resposta incorreta", err)
	}
	if incorrect {
		// "Tente novamente" já vem com imagens novas.
		c.renew(run, "resposta incorreta")
		return OutcomeFailed, false, nil
	}

	banner, err := frame.SelectionErrorVisible(ctx)
	if err != nil && !IsMissing(err) {
		return OutcomeFailed, true, fatal("lendo banner de erro", err)
	}

	switch {
	case banner && nothingClicked:
		run.log.Info("beco sem saída, recarregando")
		if err := c.reload(ctx, frame, run); err != nil {
			return OutcomeFailed, true, fmt.Errorf("%w: %w", ErrDeadEnd, err)
		}
	case banner:
		if !run.verifies.Take() {
			return OutcomeFailed, true, run.verifies.Err()
		}
		run.log.Info("verificação rejeitada, tentando de novo", zap.Int("tentativa", run.verifies.Used()))
	default:
		// Sem banner e sem solução: o provedor trocou as imagens.
		c.renew(run, "imagens trocadas")
	}
	return OutcomeFailed, false, nil
}

// renew troca a instância do desafio sem clicar em recarregar.
func (c *VisualController) renew(run *visualRun, reason string) {
	old := run.ch.ID
	run.ch.renew()
	run.pending = 0
	run.log.Info("novo desafio", zap.String("motivo", reason), zap.String("anterior", old), zap.String("novo", run.ch.ID))
}

func (c *VisualController) reload(ctx context.Context, frame ChallengeFrame, run *visualRun) error {
	if !run.reloads.Take() {
		return run.reloads.Err()
	}
	if err := frame.ClickReload(ctx); err != nil && !IsMissing(err) {
		return fatal("recarregando desafio", err)
	}
	c.renew(run, "reload")
	return waitFailure(c.policy.Wait(ctx, c.policy.AfterReload))
}

func (c *VisualController) probeFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return waitFailure(err)
	}
	return fatal(op, err)
}

func (c *VisualController) collect(ctx context.Context, run *visualRun, img ChallengeImage, cls Classification, hits []int, kept []Detection) {
	if c.opts.Samples == nil {
		return
	}
	sample := Sample{
		ChallengeID: run.ch.ID,
		Prompt:      run.ch.PromptText,
		Labels:      cls.Labels,
		Mode:        run.ch.Mode.String(),
		GridSize:    run.ch.GridSize,
		Threshold:   c.Threshold(run.ch.Mode),
		Hits:        hits,
		Detections:  kept,
		Image:       img,
	}
	if _, err := c.opts.Samples.Save(ctx, sample); err != nil {
		run.log.Warn("falha salvando sample", zap.Error(err))
	}
}
