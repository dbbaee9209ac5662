package domain

import "time"

// AccountType enumerates the kinds of accounts known to the host application.
type AccountType string

const (
	AccountTypeUser    AccountType = "user"
	AccountTypeService AccountType = "service"
)

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID        string
	Email     string
	Name      string
	Type      AccountType
	IsActive  bool
	CreatedAt time.Time
}

// CanHoldTokens reports whether bearer tokens may be issued to the account.
func (a Account) CanHoldTokens() bool {
	return a.IsActive && a.Type == AccountTypeService
}
