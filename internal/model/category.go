package model

import "time"

// Category is an owner-scoped label a transaction can be assigned to.
type Category struct {
	CreatedAt time.Time
	Name      string
	ID        int64
	OwnerID   int64
}

// Payee is an owner-scoped counterparty a transaction can be assigned to.
type Payee struct {
	CreatedAt time.Time
	Name      string
	ID        int64
	OwnerID   int64
}

// Owner is the user account that exclusively owns rules and transactions.
type Owner struct {
	CreatedAt time.Time
	Name      string
	ID        int64
}
