package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountRole distinguishes ordinary users from administrators.
type AccountRole string

const (
	RoleOrdinary AccountRole = "ORDINARY"
	RoleAdmin    AccountRole = "ADMIN"
)

// Account is a user account holding a balance.
// Balances are mutated only through the transfer engine's atomic
// debit/credit path, never directly by callers.
type Account struct {
	ID        string
	Name      string
	Balance   decimal.Decimal
	Role      AccountRole
	CreatedAt time.Time
}
