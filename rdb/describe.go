package rdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type describer func(ctx context.Context, c *Connection, table string) ([]column, error)

var describers = map[string]describer{
	TypeMySQL:  describeMySQL,
	TypeSQLite: describeSQLite,
	TypePgSQL:  describePgSQL,
}

// quoteIdentifier 按点号拆分后分别加引号
func quoteIdentifier(name string, quote string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(strings.TrimSpace(p), quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}

func rowString(row Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func describeMySQL(ctx context.Context, c *Connection, table string) ([]column, error) {
	res, err := c.Query(ctx, "SHOW COLUMNS FROM "+quoteIdentifier(table, "`"), nil)
	if err != nil {
		return nil, err
	}
	columns := make([]column, 0, len(res.Rows))
	for _, row := range res.Rows {
		columns = append(columns, column{
			Name:    rowString(row, "field"),
			Type:    rowString(row, "type"),
			Primary: strings.EqualFold(rowString(row, "key"), "pri"),
		})
	}
	return columns, nil
}

func describeSQLite(ctx context.Context, c *Connection, table string) ([]column, error) {
	res, err := c.Query(ctx, "PRAGMA table_info("+quoteIdentifier(table, `"`)+")", nil)
	if err != nil {
		return nil, err
	}
	columns := make([]column, 0, len(res.Rows))
	for _, row := range res.Rows {
		columns = append(columns, column{
			Name:    rowString(row, "name"),
			Type:    rowString(row, "type"),
			Primary: rowString(row, "pk") != "0" && rowString(row, "pk") != "",
		})
	}
	return columns, nil
}

const pgsqlColumnsSQL = `SELECT a.attname AS field, format_type(a.atttypid, a.atttypmod) AS type, COALESCE(i.indisprimary, false) AS is_primary
FROM pg_attribute a
JOIN pg_class c ON a.attrelid = c.oid
LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
WHERE c.relname = ? AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

func describePgSQL(ctx context.Context, c *Connection, table string) ([]column, error) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	res, err := c.Query(ctx, pgsqlColumnsSQL, Args{table})
	if err != nil {
		return nil, err
	}
	columns := make([]column, 0, len(res.Rows))
	for _, row := range res.Rows {
		columns = append(columns, column{
			Name:    rowString(row, "field"),
			Type:    rowString(row, "type"),
			Primary: row["is_primary"] == true,
		})
	}
	return columns, nil
}

var explainPrefix = map[string]string{
	TypeMySQL:  "EXPLAIN ",
	TypeSQLite: "EXPLAIN QUERY PLAN ",
	TypePgSQL:  "EXPLAIN ",
}

// explain 在同一个连接上用同样的参数查询执行计划，调用方需持有 link.mu
func (c *Connection) explain(ctx context.Context, link *Link, query string, args []any) ([]Row, error) {
	prefix, ok := explainPrefix[c.options.Type]
	if !ok {
		return nil, errors.Errorf("explain is not supported for %s", c.options.Type)
	}

	stmt, err := link.prepare(ctx, prefix+query)
	if err != nil {
		return nil, errors.Wrap(err, "prepare explain failed")
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, "explain failed")
	}
	defer rows.Close()
	return scanRows(rows)
}
