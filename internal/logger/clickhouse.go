package logger

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink batch-inserts RequestLog entries into a request_logs
// table. This is the "managed version" analytics path the teacher's own
// comment names but never wires (internal/proxy/gateway.go: "not wired in
// the open-source build... connects to ClickHouse for analytics") —
// completed here behind LOG_SINK=clickhouse rather than carried as a dead
// go.mod entry.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// ClickHouseConfig configures the sink's connection.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
	// Table is the target table name. Default: "request_logs".
	Table string
}

// NewClickHouseSink opens a connection and returns a ready Sink.
func NewClickHouseSink(cfg ClickHouseConfig) (*ClickHouseSink, error) {
	table := cfg.Table
	if table == "" {
		table = "request_logs"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	return &ClickHouseSink{conn: conn, table: table}, nil
}

// Insert batch-inserts entry into the request_logs table.
func (s *ClickHouseSink) Insert(ctx context.Context, batch []RequestLog) error {
	if len(batch) == 0 {
		return nil
	}

	b, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, provider, model, input_tokens, output_tokens, latency_ms, status, cached, created_at)",
		s.table,
	))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID, e.Provider, e.Model, e.InputTokens, e.OutputTokens,
			e.LatencyMs, e.Status, e.Cached, normalizeTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("clickhouse: append: %w", err)
		}
	}

	return b.Send()
}

// Close closes the underlying connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
