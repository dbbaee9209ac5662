package mail

import (
	"bytes"
	"fmt"
	"time"

	"github.com/arklim/passwordless-auth/internal/core/domain"
	"github.com/arklim/passwordless-auth/internal/core/port"
)

// Message is a rendered plain text email.
type Message struct {
	ID      string
	To      string
	Subject string
	Body    string
}

// Renderer turns queued mail into messages. The login code is decrypted here,
// immediately before rendering.
type Renderer struct {
	cipher port.CodeCipher
}

func NewRenderer(cipher port.CodeCipher) *Renderer {
	return &Renderer{cipher: cipher}
}

func (r *Renderer) RenderLoginCode(m domain.LoginCodeMail) (Message, error) {
	code, err := r.cipher.Decrypt(m.EncryptedCode)
	if err != nil {
		return Message{}, fmt.Errorf("decrypt login code for challenge %s: %w", m.ChallengeID, err)
	}

	var buf bytes.Buffer
	err = loginCodeTemplate.Execute(&buf, struct {
		Code      string
		ExpiresAt time.Time
	}{
		Code:      code,
		ExpiresAt: m.ExpiresAt.UTC(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render login code mail: %w", err)
	}

	return Message{ID: m.MessageID, To: m.Email, Subject: loginCodeSubject, Body: buf.String()}, nil
}

func (r *Renderer) RenderTokenRotation(m domain.TokenRotationMail) (Message, error) {
	var buf bytes.Buffer
	if err := tokenRotationTemplate.Execute(&buf, m); err != nil {
		return Message{}, fmt.Errorf("render token rotation mail: %w", err)
	}
	return Message{ID: m.MessageID, To: m.Email, Subject: tokenRotationSubject, Body: buf.String()}, nil
}
