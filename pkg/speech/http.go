package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPOptions configura um provedor STT HTTP.
type HTTPOptions struct {
	Endpoint string
	APIKey   string
	Language string
	// AuthHeader, quando definido, leva a chave no header (ex.: "Authorization: Token <key>")
	// em vez do parâmetro de query "key".
	AuthHeader string
	AuthPrefix string
	Timeout    time.Duration
}

// HTTPClient envia o áudio cru no corpo do POST e interpreta a resposta com ParseTranscript.
type HTTPClient struct {
	opts   HTTPOptions
	client *http.Client
	logger *zap.Logger
}

func NewHTTPClient(opts HTTPOptions, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	return &HTTPClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

func (c *HTTPClient) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint stt inválido: %w", err)
	}
	q := u.Query()
	q.Set("lang", c.opts.Language)
	q.Set("output", "json")
	if c.opts.APIKey != "" && c.opts.AuthHeader == "" {
		q.Set("key", c.opts.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("erro criando requisição stt: %w", err)
	}
	req.Header.Set("Content-Type", mime)
	if c.opts.APIKey != "" && c.opts.AuthHeader != "" {
		req.Header.Set(c.opts.AuthHeader, c.opts.AuthPrefix+c.opts.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("erro chamando stt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("erro lendo resposta do stt: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("stt retornou status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	text, err := ParseTranscript(body)
	if err != nil {
		return "", err
	}
	c.logger.Debug("stt respondeu",
		zap.Duration("duração", time.Since(start)),
		zap.Int("bytes_audio", len(audio)))
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
