package testutil

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// FakeTransactions stores n unlabeled transactions with random merchants and
// amounts, one per day going back from newest. Seeding makes runs repeatable.
func (o *Owner) FakeTransactions(seed uint64, n int, newest time.Time) []int64 {
	o.db.t.Helper()

	faker := gofakeit.New(seed)
	currencies := []string{"USD", "EUR", "UYU"}

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		desc := fmt.Sprintf("%s %s", faker.Company(), faker.City())
		amount := fmt.Sprintf("%.2f", faker.Price(1, 500))
		currency := currencies[faker.IntN(len(currencies))]

		txn := o.AddTransaction(desc, amount, currency, newest.AddDate(0, 0, -i))
		ids = append(ids, txn.ID)
	}

	return ids
}
