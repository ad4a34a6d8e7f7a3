package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/loviiin/argus-captcha/pkg/captcha"
	"go.uber.org/zap"
)

// Seletores do widget reCAPTCHA v2. recaptcha.net serve o mesmo caminho api2.
const (
	anchorFrameSel    = `iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"]`
	challengeFrameSel = `iframe[src*="recaptcha/api2/bframe"], iframe[src*="recaptcha/enterprise/bframe"]`
	responseFieldSel  = `textarea[name="g-recaptcha-response"]`

	anchorSel        = `#recaptcha-anchor`
	anchorCheckedSel = `#recaptcha-anchor[aria-checked="true"]`

	instructionsSel = `.rc-imageselect-instructions`
	promptSel       = `.rc-imageselect-desc-no-canonical, .rc-imageselect-desc`
	gridSel         = `.rc-imageselect-table-33, .rc-imageselect-table-44, .rc-imageselect-table-42`
	tileSel         = `.rc-imageselect-tile`

	verifySel      = `#recaptcha-verify-button`
	reloadSel      = `#recaptcha-reload-button`
	audioButtonSel = `#recaptcha-audio-button`

	audioLinkSel     = `.rc-audiochallenge-tdownload-link`
	audioSourceSel   = `#audio-source`
	audioResponseSel = `#audio-response`
	audioErrorSel    = `.rc-audiochallenge-error-message`

	dosHeaderSel = `.rc-doscaptcha-header-text`
	dosBodySel   = `.rc-doscaptcha-body-text`
)

var selectionErrorSels = []string{
	`.rc-imageselect-error-select-more`,
	`.rc-imageselect-error-dynamic-more`,
	`.rc-imageselect-error-select-something`,
}

// "Please try again": o provedor já trocou as imagens.
const incorrectSel = `.rc-imageselect-incorrect-response`

// Todas as imagens do grid carregadas: em rodadas dinâmicas o tile trocado
// passa um tempo sem naturalWidth.
const gridLoadedJS = `() => {
	const imgs = Array.from(document.querySelectorAll('.rc-imageselect-tile img'));
	return imgs.length > 0 && imgs.every(i => i.complete && i.naturalWidth > 0);
}`

const clearAnswerJS = `() => { this.value = ''; }`

const responseTokenJS = `() => {
	const t = document.querySelector('textarea[name="g-recaptcha-response"]');
	return !!t && t.value.length > 0;
}`

var errNotFound = errors.New("elemento não encontrado")

// classify separa "ainda não existe" de falha real do driver.
func classify(op string, err error) error {
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) || errors.Is(err, context.DeadlineExceeded) {
		return captcha.Missing(op, err)
	}
	return captcha.DriverFailure(op, err)
}

// RecaptchaFrame implementa captcha.ChallengeFrame sobre uma página rod com o
// widget reCAPTCHA. A página externa fica intacta; toda sonda entra no iframe
// do desafio (bframe) ou da âncora.
type RecaptchaFrame struct {
	page     *rod.Page
	mouse    *Mouse
	logger   *zap.Logger
	startURL string
	shown    atomic.Bool
}

func NewRecaptchaFrame(page *rod.Page, mouse *Mouse, logger *zap.Logger) (*RecaptchaFrame, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("erro lendo página: %w", err)
	}
	return &RecaptchaFrame{page: page, mouse: mouse, logger: logger, startURL: info.URL}, nil
}

func (f *RecaptchaFrame) subframe(ctx context.Context, op, sel string) (*rod.Page, error) {
	has, el, err := f.page.Context(ctx).Has(sel)
	if err != nil {
		return nil, classify(op, err)
	}
	if !has {
		return nil, captcha.Missing(op, fmt.Errorf("%w: %s", errNotFound, sel))
	}
	fr, err := el.Frame()
	if err != nil {
		return nil, classify(op, err)
	}
	return fr.Context(ctx), nil
}

func (f *RecaptchaFrame) challenge(ctx context.Context, op string) (*rod.Page, error) {
	return f.subframe(ctx, op, challengeFrameSel)
}

// element procura sel dentro do bframe sem esperar: quem espera é o PollUntil.
func (f *RecaptchaFrame) element(ctx context.Context, op, sel string) (*rod.Element, error) {
	fr, err := f.challenge(ctx, op)
	if err != nil {
		return nil, err
	}
	has, el, err := fr.Has(sel)
	if err != nil {
		return nil, classify(op, err)
	}
	if !has {
		return nil, captcha.Missing(op, fmt.Errorf("%w: %s", errNotFound, sel))
	}
	return el, nil
}

func (f *RecaptchaFrame) visible(ctx context.Context, op, sel string) (bool, error) {
	el, err := f.element(ctx, op, sel)
	if captcha.IsMissing(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := el.Visible()
	if err != nil {
		return false, classify(op, err)
	}
	return ok, nil
}

func (f *RecaptchaFrame) click(ctx context.Context, op, sel string) error {
	el, err := f.element(ctx, op, sel)
	if err != nil {
		return err
	}
	if err := f.mouse.Click(el); err != nil {
		return classify(op, err)
	}
	return nil
}

func (f *RecaptchaFrame) text(ctx context.Context, op, sel string) (string, error) {
	el, err := f.element(ctx, op, sel)
	if err != nil {
		return "", err
	}
	t, err := el.Text()
	if err != nil {
		return "", classify(op, err)
	}
	return strings.TrimSpace(t), nil
}

// ClickAnchor marca o checkbox "não sou um robô".
func (f *RecaptchaFrame) ClickAnchor(ctx context.Context) error {
	const op = "clicar âncora"
	if iframe, err := f.page.Context(ctx).Element(anchorFrameSel); err == nil {
		if err := f.mouse.Approach(f.page, iframe); err != nil {
			f.logger.Debug("aproximação do mouse falhou", zap.Error(err))
		}
	}
	fr, err := f.subframe(ctx, op, anchorFrameSel)
	if err != nil {
		return err
	}
	el, err := fr.Element(anchorSel)
	if err != nil {
		return classify(op, err)
	}
	if err := f.mouse.Click(el); err != nil {
		return classify(op, err)
	}
	return nil
}

// ChallengeVisible reporta se o bframe está sendo exibido ao usuário.
func (f *RecaptchaFrame) ChallengeVisible(ctx context.Context) (bool, error) {
	has, el, err := f.page.Context(ctx).Has(challengeFrameSel)
	if err != nil {
		return false, classify("desafio visível", err)
	}
	if !has {
		return false, nil
	}
	ok, err := el.Visible()
	if err != nil {
		return false, classify("desafio visível", err)
	}
	if ok {
		f.shown.Store(true)
	}
	return ok, nil
}

func (f *RecaptchaFrame) GridReady(ctx context.Context) (bool, error) {
	const op = "grid pronto"
	el, err := f.element(ctx, op, gridSel)
	if err != nil {
		return false, err
	}
	if ok, err := el.Visible(); err != nil || !ok {
		if err != nil {
			return false, classify(op, err)
		}
		return false, nil
	}
	fr, err := f.challenge(ctx, op)
	if err != nil {
		return false, err
	}
	res, err := fr.Eval(gridLoadedJS)
	if err != nil {
		return false, classify(op, err)
	}
	ready := res.Value.Bool()
	if ready {
		f.shown.Store(true)
	}
	return ready, nil
}

func (f *RecaptchaFrame) PromptText(ctx context.Context) (string, error) {
	// As instruções completas incluem a frase "clique em verificar quando não houver mais".
	if t, err := f.text(ctx, "prompt", instructionsSel); err == nil && t != "" {
		return t, nil
	} else if err != nil && !captcha.IsMissing(err) {
		return "", err
	}
	return f.text(ctx, "prompt", promptSel)
}

func (f *RecaptchaFrame) tiles(ctx context.Context, op string) (rod.Elements, error) {
	fr, err := f.challenge(ctx, op)
	if err != nil {
		return nil, err
	}
	els, err := fr.Elements(tileSel)
	if err != nil {
		return nil, classify(op, err)
	}
	return els, nil
}

func (f *RecaptchaFrame) TileCount(ctx context.Context) (int, error) {
	els, err := f.tiles(ctx, "contar tiles")
	if err != nil {
		return 0, err
	}
	if len(els) == 0 {
		return 0, captcha.Missing("contar tiles", errNotFound)
	}
	return len(els), nil
}

func (f *RecaptchaFrame) GridImage(ctx context.Context) ([]byte, error) {
	const op = "screenshot do grid"
	el, err := f.element(ctx, op, gridSel)
	if err != nil {
		return nil, err
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, classify(op, err)
	}
	return data, nil
}

func (f *RecaptchaFrame) ClickTile(ctx context.Context, index int) error {
	const op = "clicar tile"
	els, err := f.tiles(ctx, op)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(els) {
		return captcha.Missing(op, fmt.Errorf("tile %d fora do grid de %d", index, len(els)))
	}
	if err := f.mouse.Click(els[index]); err != nil {
		return classify(op, err)
	}
	return nil
}

func (f *RecaptchaFrame) SelectionErrorVisible(ctx context.Context) (bool, error) {
	for _, sel := range selectionErrorSels {
		ok, err := f.visible(ctx, "banner de seleção", sel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *RecaptchaFrame) IncorrectVisible(ctx context.Context) (bool, error) {
	return f.visible(ctx, "banner de resposta incorreta", incorrectSel)
}

func (f *RecaptchaFrame) AudioMode(ctx context.Context) (bool, error) {
	ok, err := f.visible(ctx, "modo áudio", audioResponseSel)
	if ok {
		f.shown.Store(true)
	}
	return ok, err
}

func (f *RecaptchaFrame) SwitchToAudio(ctx context.Context) error {
	return f.click(ctx, "trocar para áudio", audioButtonSel)
}

func (f *RecaptchaFrame) AudioSource(ctx context.Context) (string, error) {
	const op = "fonte do áudio"
	for _, c := range []struct{ sel, attr string }{
		{audioLinkSel, "href"},
		{audioSourceSel, "src"},
	} {
		el, err := f.element(ctx, op, c.sel)
		if captcha.IsMissing(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		v, err := el.Attribute(c.attr)
		if err != nil {
			return "", classify(op, err)
		}
		if v != nil && *v != "" {
			return *v, nil
		}
	}
	return "", captcha.Missing(op, errNotFound)
}

func (f *RecaptchaFrame) ClearAnswer(ctx context.Context) error {
	const op = "limpar resposta"
	el, err := f.element(ctx, op, audioResponseSel)
	if err != nil {
		return err
	}
	if _, err := el.Eval(clearAnswerJS); err != nil {
		return classify(op, err)
	}
	return nil
}

func (f *RecaptchaFrame) TypeAnswer(ctx context.Context, text string) error {
	const op = "digitar resposta"
	el, err := f.element(ctx, op, audioResponseSel)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return classify(op, err)
	}
	return nil
}

func (f *RecaptchaFrame) AnswerErrorVisible(ctx context.Context) (bool, error) {
	ok, err := f.visible(ctx, "banner de resposta", audioErrorSel)
	if err != nil || !ok {
		return false, err
	}
	t, err := f.text(ctx, "banner de resposta", audioErrorSel)
	if err != nil {
		if captcha.IsMissing(err) {
			return false, nil
		}
		return false, err
	}
	// O mesmo elemento carrega o aviso de lockout; esse é tratado por LockoutText.
	return t != "" && !captcha.IsLockoutMessage(t), nil
}

func (f *RecaptchaFrame) ClickVerify(ctx context.Context) error {
	return f.click(ctx, "verificar", verifySel)
}

func (f *RecaptchaFrame) ClickReload(ctx context.Context) error {
	return f.click(ctx, "recarregar", reloadSel)
}

func (f *RecaptchaFrame) LockoutText(ctx context.Context) (string, error) {
	var parts []string
	for _, sel := range []string{dosHeaderSel, dosBodySel} {
		t, err := f.text(ctx, "lockout", sel)
		if captcha.IsMissing(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " "), nil
	}

	t, err := f.text(ctx, "lockout", audioErrorSel)
	if captcha.IsMissing(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if captcha.IsLockoutMessage(t) {
		return t, nil
	}
	return "", nil
}

// Solved considera resolvido quando o token foi preenchido, a âncora ficou
// marcada, a página navegou ou o bframe sumiu depois de ter aparecido.
func (f *RecaptchaFrame) Solved(ctx context.Context) (bool, error) {
	const op = "verificar solução"
	page := f.page.Context(ctx)

	res, err := page.Eval(responseTokenJS)
	if err != nil {
		return false, classify(op, err)
	}
	if res.Value.Bool() {
		return true, nil
	}

	if fr, err := f.subframe(ctx, op, anchorFrameSel); err == nil {
		has, _, err := fr.Has(anchorCheckedSel)
		if err != nil {
			return false, classify(op, err)
		}
		if has {
			return true, nil
		}
	} else if !captcha.IsMissing(err) {
		return false, err
	}

	info, err := page.Info()
	if err != nil {
		return false, classify(op, err)
	}
	if info.URL != f.startURL {
		return true, nil
	}

	if f.shown.Load() {
		visible, err := f.ChallengeVisible(ctx)
		if err != nil {
			return false, err
		}
		return !visible, nil
	}
	return false, nil
}

var _ captcha.ChallengeFrame = (*RecaptchaFrame)(nil)

// Token devolve o g-recaptcha-response preenchido após a solução.
func (f *RecaptchaFrame) Token(ctx context.Context) (string, error) {
	has, el, err := f.page.Context(ctx).Has(responseFieldSel)
	if err != nil {
		return "", classify("token", err)
	}
	if !has {
		return "", nil
	}
	prop, err := el.Property("value")
	if err != nil {
		return "", classify("token", err)
	}
	return prop.Str(), nil
}

// DetectRecaptcha verifica se a página carrega o widget reCAPTCHA.
func DetectRecaptcha(page *rod.Page, wait time.Duration) bool {
	if _, err := page.Timeout(wait).Element(anchorFrameSel); err == nil {
		return true
	}
	for _, sel := range []string{
		challengeFrameSel,
		`.g-recaptcha`,
		`[data-sitekey]`,
		`script[src*="recaptcha/api.js"], script[src*="recaptcha/enterprise.js"]`,
	} {
		if has, _, err := page.Has(sel); err == nil && has {
			return true
		}
	}
	return false
}
