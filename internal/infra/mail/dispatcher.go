package mail

import (
	"context"
	"errors"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
)

// Dispatcher renders and sends queued mail. It also satisfies port.MailQueue
// so development setups without a broker deliver in-process.
type Dispatcher struct {
	renderer *Renderer
	sender   Sender
}

var _ port.MailQueue = (*Dispatcher)(nil)

func NewDispatcher(renderer *Renderer, sender Sender) *Dispatcher {
	return &Dispatcher{renderer: renderer, sender: sender}
}

func (d *Dispatcher) EnqueueLoginCode(ctx context.Context, m domain.LoginCodeMail) error {
	if m.Email == "" {
		return errors.New("login code mail has no recipient")
	}
	msg, err := d.renderer.RenderLoginCode(m)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

func (d *Dispatcher) EnqueueTokenRotation(ctx context.Context, m domain.TokenRotationMail) error {
	if m.Email == "" {
		return errors.New("token rotation mail has no recipient")
	}
	msg, err := d.renderer.RenderTokenRotation(m)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}
