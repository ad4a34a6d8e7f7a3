package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loviiin/argus-captcha/pkg/captcha"
)

// DefaultSubject é o tópico request/reply do serviço de visão.
const DefaultSubject = "jobs.captcha.detect"

// DetectRequest é o JSON enviado ao serviço de visão.
type DetectRequest struct {
	ImageB64 string `json:"image_b64"`
}

// DetectResponse é a resposta do serviço de visão.
type DetectResponse struct {
	Detections []captcha.Detection `json:"detections"`
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
}

// Remote delega a detecção a um serviço de visão via NATS.
type Remote struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

const defaultTimeout = 30 * time.Second

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

func NewRemote(nc *nats.Conn, subject string, timeout time.Duration) *Remote {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Remote{nc: nc, subject: subject, timeout: orDefault(timeout)}
}

func (r *Remote) Detect(ctx context.Context, data []byte) ([]captcha.Detection, error) {
	payload, err := json.Marshal(DetectRequest{ImageB64: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, fmt.Errorf("erro serializando payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	msg, err := r.nc.RequestWithContext(ctx, r.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("erro na requisição NATS: %w", err)
	}

	var resp DetectResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("erro parseando resposta: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("serviço de visão falhou: %s", resp.Error)
	}
	return resp.Detections, nil
}

// HandleRequest processa um DetectRequest cru e devolve a resposta serializada.
// Nunca falha: erros viram Success=false.
func HandleRequest(ctx context.Context, model captcha.DetectionModel, data []byte) []byte {
	respond := func(r DetectResponse) []byte {
		out, _ := json.Marshal(r)
		return out
	}

	var req DetectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return respond(DetectResponse{Error: "payload inválido: " + err.Error()})
	}
	img, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return respond(DetectResponse{Error: "base64 inválido: " + err.Error()})
	}
	detections, err := model.Detect(ctx, img)
	if err != nil {
		return respond(DetectResponse{Error: err.Error()})
	}
	if detections == nil {
		detections = []captcha.Detection{}
	}
	return respond(DetectResponse{Detections: detections, Success: true})
}

// Serve responde requisições de detecção num queue group, para balancear entre réplicas.
func Serve(nc *nats.Conn, subject, queue string, model captcha.DetectionModel, timeout time.Duration, logger *zap.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout = orDefault(timeout)
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		reply := HandleRequest(ctx, model, msg.Data)
		if err := msg.Respond(reply); err != nil {
			logger.Warn("erro respondendo detecção", zap.Error(err))
			return
		}
		logger.Debug("detecção respondida", zap.Duration("duração", time.Since(start)))
	})
}
