package port

import (
	"context"

	"github.com/arklim/passwordless-auth/internal/core/domain"
)

// MailQueue hands templated messages to the asynchronous mail pipeline.
type MailQueue interface {
	EnqueueLoginCode(ctx context.Context, mail domain.LoginCodeMail) error
	EnqueueTokenRotation(ctx context.Context, mail domain.TokenRotationMail) error
}
