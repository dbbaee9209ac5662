package mail

import "text/template"

var loginCodeTemplate = template.Must(template.New("login_code").Parse(
	`Your sign-in code is {{.Code}}

It expires at {{.ExpiresAt.Format "15:04 MST, Jan 2"}}. If you did not request it, you can ignore this email.
`))

var tokenRotationTemplate = template.Must(template.New("token_rotation").Parse(
	`An API token on your account was rotated.

Previous token: {{.PreviousPrefix}}… (revoked)
Replacement token: {{.NewPrefix}}…
Rotated at: {{.RotatedAt.Format "2006-01-02 15:04:05 MST"}}{{if .RotatedBy}} by {{.RotatedBy}}{{end}}

If you did not expect this change, revoke the replacement token immediately.
`))

const (
	loginCodeSubject     = "Your sign-in code"
	tokenRotationSubject = "An API token was rotated"
)
