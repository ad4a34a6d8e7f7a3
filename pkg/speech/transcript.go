package speech

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyTranscript indica que o provedor respondeu sem nenhum texto.
var ErrEmptyTranscript = errors.New("transcrição vazia")

// chunk cobre os formatos aceitos: speech-api v2 (stream de objetos
// {"result":[{"alternative":[...],"final":true}]}), {"text": "..."} e
// {"results":{"channels":[{"alternatives":[...]}]}}.
type chunk struct {
	Result []struct {
		Alternative []alternative `json:"alternative"`
		Final       bool          `json:"final"`
	} `json:"result"`
	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

type alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence"`
}

type candidate struct {
	text  string
	conf  float64
	final bool
	seq   int
}

// better ordena: final vence parcial, depois maior confiança, depois o mais recente.
func (c candidate) better(o candidate) bool {
	if c.final != o.final {
		return c.final
	}
	if c.conf != o.conf {
		return c.conf > o.conf
	}
	return c.seq > o.seq
}

// ParseTranscript extrai a melhor transcrição de um objeto JSON ou de uma
// sequência deles (um por linha ou concatenados).
func ParseTranscript(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	var best *candidate
	seq := 0
	consider := func(text string, conf *float64, final bool) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		seq++
		c := candidate{text: text, final: final, seq: seq}
		if conf != nil {
			c.conf = *conf
		}
		if best == nil || c.better(*best) {
			best = &c
		}
	}

	for {
		var ch chunk
		err := dec.Decode(&ch)
		if err == io.EOF {
			break
		}
		if err != nil {
			if best != nil {
				// Stream cortado no meio: fica com o que já chegou.
				break
			}
			return "", fmt.Errorf("erro parseando resposta do stt: %w", err)
		}
		for _, r := range ch.Result {
			for _, a := range r.Alternative {
				consider(a.Transcript, a.Confidence, r.Final)
			}
		}
		for _, c := range ch.Results.Channels {
			for _, a := range c.Alternatives {
				consider(a.Transcript, a.Confidence, true)
			}
		}
		consider(ch.Text, nil, true)
		consider(ch.Transcript, nil, true)
	}

	if best == nil {
		return "", ErrEmptyTranscript
	}
	return best.text, nil
}
