package router

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" sql driver

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type databaseConfig struct {
	Engine         string `json:"engine"` // postgresql | sqlite
	ConnectionString string `json:"connection_string"`
	Query          string `json:"query"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func sqlDriverFor(engine string) (string, error) {
	switch engine {
	case "postgresql", "postgres":
		return "pgx", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", gwerr.New(gwerr.KindRouting, "unsupported database engine %q", engine)
	}
}

// routeDatabase substitutes the connection string and SQL, executes the
// query, and returns typed row data (spec §4.D database).
func (r *Router) routeDatabase(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg databaseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid database routing config")
	}
	driver, err := sqlDriverFor(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if cfg.Query == "" {
		return nil, gwerr.New(gwerr.KindRouting, "database routing config missing query")
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	dsn, err := substituteString(cfg.ConnectionString, call)
	if err != nil {
		return nil, err
	}
	query, err := substituteString(cfg.Query, call)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "opening %s connection", cfg.Engine)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "executing query against %s", cfg.Engine)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "reading result columns")
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, gwerr.Wrap(gwerr.KindConnection, err, "scanning row")
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = coerceCell(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "iterating rows")
	}

	return &protocol.AgentResult{
		Success: true,
		Data: map[string]any{
			"rows":      result,
			"row_count": len(result),
		},
	}, nil
}

// coerceCell converts driver-native scan types ([]byte in particular) into
// JSON-friendly values.
func coerceCell(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
