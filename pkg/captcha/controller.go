package captcha

import (
	"context"
	"errors"
	"fmt"
)

// Report resume uma chamada de Solve para o fluxo externo.
type Report struct {
	ChallengeID string
	Kind        Kind
	Outcome     Outcome
	Err         error
	Rounds      int
	Reloads     int
}

// Solver é implementado pelos dois controllers.
type Solver interface {
	Solve(ctx context.Context, frame ChallengeFrame) (Outcome, error)
	SolveWithReport(ctx context.Context, frame ChallengeFrame) Report
}

// checkTerminal verifica os dois estados que encerram qualquer rodada:
// desafio resolvido ou aviso de lockout.
func checkTerminal(ctx context.Context, frame ChallengeFrame) (Outcome, bool, error) {
	solved, err := frame.Solved(ctx)
	if err != nil && !IsMissing(err) {
		return OutcomeFailed, true, fatal("verificando solução", err)
	}
	if solved {
		return OutcomeSolved, true, nil
	}
	return checkLockout(ctx, frame)
}

func checkLockout(ctx context.Context, frame ChallengeFrame) (Outcome, bool, error) {
	text, err := frame.LockoutText(ctx)
	if err != nil && !IsMissing(err) {
		return OutcomeFailed, true, fatal("verificando lockout", err)
	}
	if IsLockoutMessage(text) {
		return OutcomeLockout, true, fmt.Errorf("%w: %q", ErrLockout, text)
	}
	return OutcomeFailed, false, nil
}

// waitFailure traduz erros de espera: prazo estourado vira ErrTimeout.
func waitFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
