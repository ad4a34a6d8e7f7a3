package captcha

import "context"

// Todos os métodos devolvem *ProbeError em caso de falha: ProbeMissing quando o
// elemento ainda não existe, ProbeDriver quando o browser falhou.

// VisualFrame são as capacidades usadas pelo desafio de imagens.
type VisualFrame interface {
	// GridReady reporta se o grid de tiles terminou de renderizar.
	GridReady(ctx context.Context) (bool, error)
	PromptText(ctx context.Context) (string, error)
	// TileCount devolve quantos tiles clicáveis existem (9 ou 16).
	TileCount(ctx context.Context) (int, error)
	// GridImage devolve o screenshot PNG do grid inteiro.
	GridImage(ctx context.Context) ([]byte, error)
	ClickTile(ctx context.Context, index int) error
	// SelectionErrorVisible reporta os banners "selecione mais imagens": o grid
	// continua o mesmo.
	SelectionErrorVisible(ctx context.Context) (bool, error)
	// IncorrectVisible reporta o banner "tente novamente", que chega com imagens novas.
	IncorrectVisible(ctx context.Context) (bool, error)
}

// AudioFrame são as capacidades usadas pelo desafio de áudio.
type AudioFrame interface {
	AudioMode(ctx context.Context) (bool, error)
	SwitchToAudio(ctx context.Context) error
	// AudioSource devolve o href do link de download ou o src do <audio>, cru.
	AudioSource(ctx context.Context) (string, error)
	ClearAnswer(ctx context.Context) error
	// TypeAnswer acrescenta texto ao campo de resposta sem limpá-lo.
	TypeAnswer(ctx context.Context, text string) error
	// AnswerErrorVisible reporta o banner de resposta incorreta (não o de lockout).
	AnswerErrorVisible(ctx context.Context) (bool, error)
}

// ChallengeFrame é o frame do desafio visto pelos controllers. Cada driver de
// automação implementa uma vez; os controllers nunca veem seletores.
type ChallengeFrame interface {
	VisualFrame
	AudioFrame

	ClickVerify(ctx context.Context) error
	ClickReload(ctx context.Context) error
	// LockoutText devolve o texto do aviso de bloqueio, ou "" quando ausente.
	LockoutText(ctx context.Context) (string, error)
	// Solved reporta se o frame sumiu, a âncora foi marcada ou a página saiu do formulário.
	Solved(ctx context.Context) (bool, error)
}
