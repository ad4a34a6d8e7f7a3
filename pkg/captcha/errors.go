package captcha

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indica que uma espera limitada estourou
	ErrTimeout = errors.New("timeout aguardando o desafio")
	// ErrUnsupportedChallenge indica que o prompt pede uma classe que o detector não conhece
	ErrUnsupportedChallenge = errors.New("desafio não suportado pelo detector")
	// ErrDeadEnd indica "selecione mais imagens" sem nenhum tile restante para clicar
	ErrDeadEnd = errors.New("beco sem saída: nada mais para clicar")
	// ErrTranscription cobre download, parse ou transcrição vazia do áudio
	ErrTranscription = errors.New("falha na transcrição do áudio")
	// ErrNoAudio indica que o desafio não expôs nenhuma URL de áudio
	ErrNoAudio = errors.New("nenhum áudio disponível no desafio")
	// ErrLockout indica que o provedor detectou tráfego automatizado
	ErrLockout = errors.New("provedor bloqueou: consultas automatizadas detectadas")
	// ErrFatal envolve falhas inesperadas do driver, modelo ou provedor
	ErrFatal = errors.New("falha fatal")
	// ErrAttemptsExhausted indica que um orçamento de tentativas acabou
	ErrAttemptsExhausted = errors.New("tentativas esgotadas")
)

// ProbeKind classifica a falha de uma sonda no frame do desafio.
type ProbeKind int

const (
	// ProbeMissing: elemento ausente ou ainda não renderizado. Recuperável.
	ProbeMissing ProbeKind = iota
	// ProbeDriver: o driver do browser falhou. Fatal para o controller.
	ProbeDriver
)

func (k ProbeKind) String() string {
	switch k {
	case ProbeMissing:
		return "missing"
	case ProbeDriver:
		return "driver"
	default:
		return "unknown"
	}
}

// ProbeError é retornado por todos os métodos de ChallengeFrame.
type ProbeError struct {
	Op   string
	Kind ProbeKind
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sonda %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sonda %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Missing cria um ProbeError recuperável.
func Missing(op string, err error) error {
	return &ProbeError{Op: op, Kind: ProbeMissing, Err: err}
}

// DriverFailure cria um ProbeError fatal.
func DriverFailure(op string, err error) error {
	return &ProbeError{Op: op, Kind: ProbeDriver, Err: err}
}

// IsMissing reporta se err é uma sonda recuperável (elemento ausente).
func IsMissing(err error) bool {
	var pe *ProbeError
	return errors.As(err, &pe) && pe.Kind == ProbeMissing
}

// fatal converte erros de sonda não recuperáveis em ErrFatal.
func fatal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
}
