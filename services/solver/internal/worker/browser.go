package worker

import (
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// BrowserOptions espelha a seção browser do config.
type BrowserOptions struct {
	StateDir  string
	DebugPort string
	Headless  bool
	Bin       string
	Proxy     string
}

// NewBrowser cria uma instância de browser Rod com estado persistente.
// Sem StateDir, o perfil vai para um diretório temporário argus_profile_*,
// que o sweeper remove se o worker morrer sem limpar.
func NewBrowser(opts BrowserOptions, logger *zap.Logger) (*rod.Browser, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := opts.Bin
	if path == "" {
		path, _ = launcher.LookPath()
	}

	stateDir := opts.StateDir
	cleanup := func() {}
	if stateDir == "" {
		dir, err := os.MkdirTemp("", ProfilePrefix+"*")
		if err != nil {
			return nil, nil, fmt.Errorf("erro criando perfil temporário: %w", err)
		}
		stateDir = dir
		cleanup = func() { os.RemoveAll(dir) }
	}

	l := launcher.New().
		Bin(path).
		UserDataDir(stateDir).
		Leakless(false).
		Set("use-gl", "swiftshader"). // Software rendering para containers
		Set("disable-gpu").
		Set("no-sandbox"). // Necessário em containers Linux
		Set("lang", "en-US")

	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false) // Para desenvolvimento/VNC
	}

	u, err := l.Launch()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("erro ao iniciar browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("erro conectando ao browser: %w", err)
	}

	if opts.DebugPort != "" {
		go browser.ServeMonitor(opts.DebugPort)
		logger.Info("monitor do browser disponível", zap.String("porta", opts.DebugPort))
	}

	return browser, func() {
		browser.Close()
		cleanup()
	}, nil
}
