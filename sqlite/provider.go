package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driftsync/reducer-runtime/protocol"
)

// Open opens a SQLite database for use with the provider. The DSN is passed
// through to the driver; ":memory:" gives a private in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return db, nil
}

// Provider resolves reducer queries against one database. Failures are
// returned as *protocol.ErrorReply so the driver reports them into the guest
// instead of aborting the invocation.
type Provider struct {
	db *sql.DB
}

func NewProvider(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// Resolve runs one query and converts its rows to wire values.
func (p *Provider) Resolve(ctx context.Context, query *protocol.Query) (*protocol.QueryResult, error) {
	rows, err := p.db.QueryContext(ctx, query.SQL, bindValues(query.Params)...)
	if err != nil {
		return nil, &protocol.ErrorReply{Code: "sqlite", Message: err.Error()}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &protocol.ErrorReply{Code: "sqlite", Message: err.Error()}
	}

	result := &protocol.QueryResult{Columns: cols}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &protocol.ErrorReply{Code: "sqlite", Message: err.Error()}
		}
		cells := make([]protocol.Value, len(cols))
		for i, v := range raw {
			cells[i] = toValue(v)
		}
		result.Rows = append(result.Rows, protocol.Row{Cells: cells})
	}
	if err := rows.Err(); err != nil {
		return nil, &protocol.ErrorReply{Code: "sqlite", Message: err.Error()}
	}
	return result, nil
}

// ApplyEffects runs a finished invocation's statements, in order, inside one
// transaction. Either every statement applies or none does.
func ApplyEffects(ctx context.Context, db *sql.DB, effects *protocol.Effects) error {
	if effects == nil || len(effects.Statements) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin effects transaction: %w", err)
	}

	for i, st := range effects.Statements {
		if _, err := tx.ExecContext(ctx, st.SQL, bindValues(st.Params)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply statement %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

func bindValues(params []protocol.Value) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, len(params))
	for i, v := range params {
		switch v.Kind {
		case protocol.KindInteger:
			args[i] = v.Integer
		case protocol.KindReal:
			args[i] = v.Real
		case protocol.KindText:
			args[i] = v.Text
		case protocol.KindBlob:
			args[i] = v.Blob
		default:
			args[i] = nil
		}
	}
	return args
}

func toValue(v any) protocol.Value {
	switch v := v.(type) {
	case nil:
		return protocol.Null()
	case int64:
		return protocol.Integer(v)
	case float64:
		return protocol.Real(v)
	case string:
		return protocol.Text(v)
	case []byte:
		// Scan reuses its buffer between rows; the cell needs its own copy.
		return protocol.Blob(append([]byte(nil), v...))
	case bool:
		return protocol.Bool(v)
	case time.Time:
		return protocol.Text(v.Format(time.RFC3339Nano))
	default:
		return protocol.Text(fmt.Sprintf("%v", v))
	}
}
