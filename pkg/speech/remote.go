package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject é o tópico request/reply do worker de transcrição.
const DefaultSubject = "jobs.speech.transcribe"

type remoteRequest struct {
	AudioB64 string `json:"audio_b64"`
	Mime     string `json:"mime"`
	Language string `json:"language"`
}

type remoteResponse struct {
	Transcript string `json:"transcript"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Remote delega a transcrição a um worker via NATS (ex.: um Whisper local).
type Remote struct {
	nc       *nats.Conn
	subject  string
	language string
	timeout  time.Duration
}

func NewRemote(nc *nats.Conn, subject, language string, timeout time.Duration) *Remote {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{nc: nc, subject: subject, language: language, timeout: timeout}
}

func (r *Remote) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	payload, err := json.Marshal(remoteRequest{
		AudioB64: base64.StdEncoding.EncodeToString(audio),
		Mime:     mime,
		Language: r.language,
	})
	if err != nil {
		return "", fmt.Errorf("erro serializando payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	msg, err := r.nc.RequestWithContext(ctx, r.subject, payload)
	if err != nil {
		return "", fmt.Errorf("erro na requisição NATS: %w", err)
	}
	return decodeRemote(msg.Data)
}

func decodeRemote(data []byte) (string, error) {
	var resp remoteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("erro parseando resposta: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("worker de transcrição falhou: %s", resp.Error)
	}
	if resp.Transcript == "" {
		return "", ErrEmptyTranscript
	}
	return resp.Transcript, nil
}
