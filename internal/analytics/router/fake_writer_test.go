package router

import (
	"context"

	"github.com/ranggacaw/treevest-backend/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.InvestmentEventRow
	err      error
}

func (f *fakeWriter) InsertInvestmentEvent(_ context.Context, row types.InvestmentEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}
