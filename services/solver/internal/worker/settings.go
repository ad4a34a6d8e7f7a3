package worker

import (
	"time"

	"github.com/loviiin/argus-captcha/pkg/captcha"
	"github.com/loviiin/argus-captcha/pkg/config"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// PolicyFromConfig traduz a seção captcha do config para a Policy dos controllers.
func PolicyFromConfig(c config.Captcha) *captcha.Policy {
	p := captcha.DefaultPolicy()
	p.MaxRounds = c.MaxRounds
	p.MaxReloads = c.MaxReloads
	p.MaxVerifyRetries = c.MaxVerifyRetries
	p.MaxAudioAttempts = c.MaxAudioAttempts
	p.MaxDuration = time.Duration(c.MaxDurationSeconds) * time.Second
	p.GridTimeout = ms(c.GridTimeoutMs)
	p.VerifyTimeout = ms(c.VerifyTimeoutMs)
	p.PollInterval = ms(c.PollIntervalMs)
	p.ClickDelay = captcha.Range{Min: ms(c.ClickDelayMinMs), Max: ms(c.ClickDelayMaxMs)}
	p.KeyDelay = captcha.Range{Min: ms(c.KeyDelayMinMs), Max: ms(c.KeyDelayMaxMs)}
	p.SwitchDelay = captcha.Range{Min: ms(c.SwitchDelayMinMs), Max: ms(c.SwitchDelayMaxMs)}
	p.SettleDelay = ms(c.SettleDelayMs)
	p.AfterSubmit = ms(c.AfterSubmitMs)
	p.AfterReload = ms(c.AfterReloadMs)
	return p
}

// VisualOptionsFromConfig monta os limiares do controller visual.
func VisualOptionsFromConfig(c config.Captcha, samples captcha.SampleSink) captcha.VisualOptions {
	return captcha.VisualOptions{
		StaticConfidence:  c.StaticConfidence,
		DynamicConfidence: c.DynamicConfidence,
		Samples:           samples,
	}
}
