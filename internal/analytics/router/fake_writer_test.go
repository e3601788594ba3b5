package router

import (
	"context"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.SettlementFactRow
	err      error
}

func (f *fakeWriter) InsertFact(_ context.Context, row types.SettlementFactRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}
