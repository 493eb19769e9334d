package shipments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type scriptedExec struct {
	statements []string
	failAfter  int
}

func (e *scriptedExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if e.failAfter > 0 && len(e.statements) >= e.failAfter {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	e.statements = append(e.statements, sql)
	return pgconn.CommandTag{}, nil
}

func TestReplaceItemsClearsBeforeInserting(t *testing.T) {
	ex := &scriptedExec{}
	items := []Item{
		{SKUCode: "MUG-01", Qty: 2},
		{SKUCode: "TSHIRT-M", Qty: 1},
	}
	require.NoError(t, replaceItems(context.Background(), ex, 7, items))
	require.Len(t, ex.statements, 3)
	require.Contains(t, ex.statements[0], "DELETE FROM shipment_items")
	for _, sql := range ex.statements[1:] {
		require.Contains(t, strings.ToUpper(sql), "INSERT INTO SHIPMENT_ITEMS")
	}
}

func TestReplaceItemsFailsOnFirstBadInsert(t *testing.T) {
	// A failed insert surfaces as an error so the enclosing transaction
	// rolls back instead of committing a partial item set.
	ex := &scriptedExec{failAfter: 2}
	items := []Item{
		{SKUCode: "MUG-01", Qty: 2},
		{SKUCode: "TSHIRT-M", Qty: 1},
	}
	err := replaceItems(context.Background(), ex, 7, items)
	require.Error(t, err)
	require.Len(t, ex.statements, 2)
}
