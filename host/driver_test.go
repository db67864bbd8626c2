package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/reducer-runtime/errors"
	"github.com/driftsync/reducer-runtime/guest"
	"github.com/driftsync/reducer-runtime/protocol"
)

// logAppend writes one row without querying anything.
func logAppend(tx *guest.Tx) (*protocol.Effects, error) {
	return &protocol.Effects{Statements: []protocol.Statement{{
		SQL:    "INSERT INTO log (line) VALUES (?)",
		Params: []protocol.Value{protocol.Blob(tx.Args())},
	}}}, nil
}

// transfer debits an account after checking its balance: one query, then a
// conditional mutation.
func transfer(tx *guest.Tx) (*protocol.Effects, error) {
	res, err := tx.Query("SELECT balance FROM accounts WHERE id = ?", protocol.Text("alice"))
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, &protocol.ErrorReply{Code: "not_found", Message: "account alice"}
	}
	balance := res.Rows[0].Cells[0].Integer
	if balance < 100 {
		return nil, &protocol.ErrorReply{Code: "insufficient_funds", Message: fmt.Sprintf("balance %d", balance)}
	}
	return &protocol.Effects{Statements: []protocol.Statement{{
		SQL:    "UPDATE accounts SET balance = balance - 100 WHERE id = ?",
		Params: []protocol.Value{protocol.Text("alice")},
	}}}, nil
}

// balanceRows answers every query with a single integer cell.
func balanceRows(balance int64) QueryProviderFunc {
	return func(_ context.Context, _ *protocol.Query) (*protocol.QueryResult, error) {
		return &protocol.QueryResult{
			Columns: []string{"balance"},
			Rows:    []protocol.Row{{Cells: []protocol.Value{protocol.Integer(balance)}}},
		}, nil
	}
}

func TestInvokeSandbox_NoQueries(t *testing.T) {
	sb := newFakeSandbox(logAppend)
	d := NewDriver()

	providerCalls := 0
	res, err := d.InvokeSandbox(context.Background(), sb, []byte("payload"), QueryProviderFunc(
		func(context.Context, *protocol.Query) (*protocol.QueryResult, error) {
			providerCalls++
			return nil, nil
		}))
	require.NoError(t, err)
	require.NotNil(t, res.Effects)
	require.Len(t, res.Effects.Statements, 1)
	assert.Equal(t, []byte("payload"), res.Effects.Statements[0].Params[0].Blob)
	assert.Zero(t, providerCalls, "provider contacted for a reducer with no queries")

	require.NoError(t, sb.Close(context.Background()))
	assert.Zero(t, sb.alloc.leaked())
}

func TestInvokeSandbox_QueryRoundTrip(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver()

	var seen []*protocol.Query
	res, err := d.InvokeSandbox(context.Background(), sb, nil, QueryProviderFunc(
		func(ctx context.Context, q *protocol.Query) (*protocol.QueryResult, error) {
			seen = append(seen, q)
			return balanceRows(500)(ctx, q)
		}))
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	require.Len(t, res.Effects.Statements, 1)
	assert.Contains(t, res.Effects.Statements[0].SQL, "UPDATE accounts")

	// Replay re-runs the reducer but never re-resolves an answered query.
	require.Len(t, seen, 1)
	assert.Equal(t, "SELECT balance FROM accounts WHERE id = ?", seen[0].SQL)
	assert.Equal(t, protocol.Text("alice"), seen[0].Params[0])
}

func TestInvokeSandbox_SequentialQueries(t *testing.T) {
	reducer := func(tx *guest.Tx) (*protocol.Effects, error) {
		var effects protocol.Effects
		for _, id := range []string{"a", "b", "c"} {
			res, err := tx.Query("SELECT v FROM kv WHERE k = ?", protocol.Text(id))
			if err != nil {
				return nil, err
			}
			effects.Statements = append(effects.Statements, protocol.Statement{
				SQL:    "UPDATE kv SET v = ? WHERE k = ?",
				Params: []protocol.Value{res.Rows[0].Cells[0], protocol.Text(id)},
			})
		}
		return &effects, nil
	}

	sb := newFakeSandbox(reducer)
	d := NewDriver()

	var order []string
	res, err := d.InvokeSandbox(context.Background(), sb, nil, QueryProviderFunc(
		func(_ context.Context, q *protocol.Query) (*protocol.QueryResult, error) {
			order = append(order, q.Params[0].Text)
			return &protocol.QueryResult{Rows: []protocol.Row{{Cells: []protocol.Value{protocol.Integer(int64(len(order)))}}}}, nil
		}))
	require.NoError(t, err)
	require.Len(t, res.Effects.Statements, 3)

	// One resolution per query, in program order, despite the reducer body
	// running four times.
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, int64(2), res.Effects.Statements[1].Params[0].Integer)
}

func TestInvokeSandbox_ReducerFailure(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver()

	res, err := d.InvokeSandbox(context.Background(), sb, nil, balanceRows(40))
	require.NoError(t, err, "a reducer-reported failure is a finished invocation, not a driver error")
	require.NotNil(t, res.Failure)
	assert.Equal(t, "insufficient_funds", res.Failure.Code)
	assert.Nil(t, res.Effects)
}

func TestInvokeSandbox_ProviderErrorReportedIntoGuest(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver()

	res, err := d.InvokeSandbox(context.Background(), sb, nil, QueryProviderFunc(
		func(context.Context, *protocol.Query) (*protocol.QueryResult, error) {
			return nil, &protocol.ErrorReply{Code: "table_missing", Message: "no such table: accounts"}
		}))
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "table_missing", res.Failure.Code)
}

func TestInvokeSandbox_ProviderErrorRecovered(t *testing.T) {
	reducer := func(tx *guest.Tx) (*protocol.Effects, error) {
		_, err := tx.Query("SELECT v FROM missing")
		var qe *guest.QueryError
		if err != nil && !stderrors.As(err, &qe) {
			return nil, err
		}
		if err != nil {
			// Fall back to a default when the lookup fails.
			return &protocol.Effects{Statements: []protocol.Statement{{SQL: "INSERT INTO kv (k, v) VALUES ('x', 0)"}}}, nil
		}
		return &protocol.Effects{}, nil
	}

	sb := newFakeSandbox(reducer)
	d := NewDriver()

	res, err := d.InvokeSandbox(context.Background(), sb, nil, QueryProviderFunc(
		func(context.Context, *protocol.Query) (*protocol.QueryResult, error) {
			return nil, fmt.Errorf("no such table: missing")
		}))
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	require.Len(t, res.Effects.Statements, 1)
}

func TestInvokeSandbox_FaultSentinelIsFatal(t *testing.T) {
	sb := newFakeSandbox(logAppend)
	sb.faultOn = 1
	d := NewDriver()

	_, err := d.InvokeSandbox(context.Background(), sb, nil, balanceRows(0))
	require.Error(t, err)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindTrap, e.Kind)
}

func TestInvokeSandbox_TrapIsFatalAndLeaksNothing(t *testing.T) {
	sb := newFakeSandbox(transfer)
	sb.trapOn = 2 // trap on the resume entry
	d := NewDriver()

	_, err := d.InvokeSandbox(context.Background(), sb, nil, balanceRows(500))
	require.Error(t, err)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindTrap, e.Kind)

	// Host-owned buffers were released on the trap path; only the guest's
	// pinned frame remains until teardown.
	require.NoError(t, sb.Close(context.Background()))
	assert.Zero(t, sb.alloc.leaked())
}

func TestInvokeSandbox_Determinism(t *testing.T) {
	run := func() *protocol.InvocationResult {
		sb := newFakeSandbox(transfer)
		res, err := NewDriver().InvokeSandbox(context.Background(), sb, nil, balanceRows(500))
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, run(), run(), "identical inputs must produce identical effects")
}

func TestInvokeSandbox_TimeoutTearsDown(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver(WithTimeout(20 * time.Millisecond))

	_, err := d.InvokeSandbox(context.Background(), sb, nil, QueryProviderFunc(
		func(ctx context.Context, q *protocol.Query) (*protocol.QueryResult, error) {
			time.Sleep(60 * time.Millisecond)
			return balanceRows(500)(ctx, q)
		}))
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.Classify(err))

	// The guest was entered once and never resumed after the deadline.
	assert.Equal(t, 1, sb.entries)
}

func TestInvokeSandbox_CancelledContext(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := d.InvokeSandbox(ctx, sb, nil, QueryProviderFunc(
		func(context.Context, *protocol.Query) (*protocol.QueryResult, error) {
			cancel()
			return nil, fmt.Errorf("connection reset")
		}))
	require.Error(t, err)
	assert.Equal(t, errors.KindCanceled, errors.Classify(err))
	assert.Equal(t, 1, sb.entries)
}

func TestInvokeSandbox_NoLeaksAcrossInvocation(t *testing.T) {
	sb := newFakeSandbox(transfer)
	d := NewDriver()

	_, err := d.InvokeSandbox(context.Background(), sb, []byte("args"), balanceRows(500))
	require.NoError(t, err)

	require.NoError(t, sb.Close(context.Background()))
	assert.Zero(t, sb.alloc.leaked())
	assert.Equal(t, sb.alloc.allocs, sb.alloc.frees)
}
