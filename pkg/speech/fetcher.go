package speech

import (
	"context"
	"fmt"
	"io"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	DefaultReferer   = "https://www.google.com/"
	maxAudioBytes    = 5 << 20
)

// FetcherOptions configura o download do clipe de áudio.
type FetcherOptions struct {
	TimeoutSeconds int
	UserAgent      string
	Referer        string
	Proxy          string
}

// Fetcher baixa o áudio com fingerprint TLS de Chrome, o mesmo que o browser apresentaria.
type Fetcher struct {
	client tls_client.HttpClient
	opts   FetcherOptions
	logger *zap.Logger
}

func NewFetcher(opts FetcherOptions, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Referer == "" {
		opts.Referer = DefaultReferer
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(opts.TimeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
		tls_client.WithRandomTLSExtensionOrder(),
	}
	if opts.Proxy != "" {
		options = append(options, tls_client.WithProxyUrl(opts.Proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente tls: %w", err)
	}
	return &Fetcher{client: client, opts: opts, logger: logger}, nil
}

func (f *Fetcher) headers() fhttp.Header {
	return fhttp.Header{
		"accept":          {"*/*"},
		"accept-language": {"en-US,en;q=0.9"},
		"referer":         {f.opts.Referer},
		"user-agent":      {f.opts.UserAgent},
		fhttp.HeaderOrderKey: {
			"accept",
			"accept-language",
			"referer",
			"user-agent",
		},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("erro criando requisição: %w", err)
	}
	req.Header = f.headers()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro baixando áudio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download do áudio retornou status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("erro lendo áudio: %w", err)
	}
	f.logger.Debug("áudio baixado", zap.Int("bytes", len(data)))
	return data, nil
}
