package captcha

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Range é um intervalo de atraso aleatório.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// SleepFunc bloqueia por d ou até o contexto ser cancelado.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy concentra atrasos com jitter, orçamentos de tentativa e detecção de
// lockout. É compartilhada pelos dois controllers.
type Policy struct {
	MaxRounds        int
	MaxReloads       int
	MaxVerifyRetries int
	MaxAudioAttempts int
	MaxDuration      time.Duration

	GridTimeout   time.Duration
	VerifyTimeout time.Duration
	PollInterval  time.Duration

	ClickDelay  Range
	KeyDelay    Range
	SwitchDelay Range
	SettleDelay time.Duration
	AfterSubmit time.Duration
	AfterReload time.Duration

	sleep SleepFunc
	rng   *rand.Rand
}

// DefaultPolicy traz os valores calibrados nos scripts de renovação.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRounds:        30,
		MaxReloads:       10,
		MaxVerifyRetries: 5,
		MaxAudioAttempts: 5,
		MaxDuration:      3 * time.Minute,
		GridTimeout:      10 * time.Second,
		VerifyTimeout:    4 * time.Second,
		PollInterval:     500 * time.Millisecond,
		ClickDelay:       Range{Min: 100 * time.Millisecond, Max: 250 * time.Millisecond},
		KeyDelay:         Range{Min: 50 * time.Millisecond, Max: 100 * time.Millisecond},
		SwitchDelay:      Range{Min: 2 * time.Second, Max: 4 * time.Second},
		SettleDelay:      2500 * time.Millisecond,
		AfterSubmit:      1500 * time.Millisecond,
		AfterReload:      2 * time.Second,
	}
}

// WithSleeper troca o sleep real (testes usam um sleeper instantâneo).
func (p *Policy) WithSleeper(fn SleepFunc) *Policy {
	p.sleep = fn
	return p
}

// WithSeed fixa a semente do gerador de jitter e embaralhamento.
func (p *Policy) WithSeed(seed uint64) *Policy {
	p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return p
}

func (p *Policy) intN(n int) int {
	if p.rng != nil {
		return p.rng.IntN(n)
	}
	return rand.IntN(n)
}

// Jitter sorteia uma duração dentro de r.
func (p *Policy) Jitter(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	span := int64(r.Max - r.Min)
	var off int64
	if p.rng != nil {
		off = p.rng.Int64N(span + 1)
	} else {
		off = rand.Int64N(span + 1)
	}
	return r.Min + time.Duration(off)
}

// Wait dorme d respeitando o contexto.
func (p *Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitJitter dorme um valor sorteado em r.
func (p *Policy) WaitJitter(ctx context.Context, r Range) error {
	return p.Wait(ctx, p.Jitter(r))
}

// Shuffle embaralha os índices in-place quando há mais de dois.
func (p *Policy) Shuffle(idx []int) {
	if len(idx) <= 2 {
		return
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := p.intN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// PollUntil consulta cond a cada PollInterval até ela virar true ou timeout
// passar. Sondas ProbeMissing contam como "ainda não"; qualquer outro erro aborta.
// O tempo é contado pela soma dos intervalos dormidos.
func (p *Policy) PollUntil(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var waited time.Duration
	for {
		ok, err := cond(ctx)
		if err != nil && !IsMissing(err) {
			return err
		}
		if ok && err == nil {
			return nil
		}
		if waited >= timeout {
			return ErrTimeout
		}
		if err := p.Wait(ctx, interval); err != nil {
			return err
		}
		waited += interval
	}
}

var lockoutPhrases = []string{
	"try again later",
	"automated queries",
	"sending automated",
	"unusual traffic",
	"稍后重试",
	"自动查询",
	"tente novamente mais tarde",
	"consultas automáticas",
	"consultas automatizadas",
}

// IsLockoutMessage reconhece o aviso de bloqueio por tráfego automatizado.
func IsLockoutMessage(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, p := range lockoutPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// Budget é um contador limitado de tentativas.
type Budget struct {
	Name string
	Max  int
	used int
}

func NewBudget(name string, max int) *Budget {
	return &Budget{Name: name, Max: max}
}

// Take consome uma tentativa; false quando o orçamento acabou.
func (b *Budget) Take() bool {
	if b.used >= b.Max {
		return false
	}
	b.used++
	return true
}

func (b *Budget) Used() int { return b.used }

// Err descreve o esgotamento do orçamento.
func (b *Budget) Err() error {
	return fmt.Errorf("%w: %s (%d)", ErrAttemptsExhausted, b.Name, b.Max)
}
