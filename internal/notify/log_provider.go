package notify

import (
	"context"
	"log"
)

// LogProvider writes messages to the process log instead of sending them.
// It is selected when no provider credential is configured and never fails.
type LogProvider struct {
	logf func(format string, args ...any)
}

func NewLogProvider() *LogProvider {
	return &LogProvider{logf: log.Printf}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	p.logf("notify: email not sent (no provider configured) to=%s subject=%q", msg.To, msg.Subject)
	p.logf("notify: body:\n%s", msg.Body())
	return Receipt{Provider: p.Name()}, nil
}
