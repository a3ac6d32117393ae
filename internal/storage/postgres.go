package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rkhandelwal/futures-exec-engine/internal/rules"
)

// PostgresStore implements Store on top of pgx/v5's connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against connStr and verifies connectivity
// with a ping before returning, so callers fail fast at startup rather than
// on the first query.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open pool: %w", err)
	}

	ps := &PostgresStore{pool: pool}
	if err := ps.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) ListActiveStrategies(ctx context.Context, userID, accountID string) ([]StrategyConfig, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, user_id, account_id, symbol, rules_json, active, autonomy_level, created_at, updated_at
		FROM strategies
		WHERE user_id = $1 AND account_id = $2 AND active = true`, userID, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list active strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyConfig
	for rows.Next() {
		var sc StrategyConfig
		var symbol string
		var raw []byte
		var autonomy string
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.AccountID, &symbol, &raw, &sc.Active, &autonomy, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan strategy: %w", err)
		}
		sc.Symbol = rules.Symbol(symbol)
		sc.RawRules = json.RawMessage(raw)
		sc.AutonomyLevel = AutonomyLevel(autonomy)

		parsed, err := rules.ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres store: strategy %s: %w", sc.ID, err)
		}
		sc.Rules = parsed
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list active strategies: %w", err)
	}
	return out, nil
}

func (ps *PostgresStore) FindOrderBySetupID(ctx context.Context, setupID string) (*Order, error) {
	row := ps.pool.QueryRow(ctx, orderSelectColumns+` FROM orders WHERE setup_id = $1`, setupID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: find order by setup id: %w", err)
	}
	return o, nil
}

func (ps *PostgresStore) InsertOrder(ctx context.Context, o *Order) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, strategy_id, tradovate_account_id, setup_id, broker_order_id,
			symbol, action, order_type, order_qty, price, stop_price, time_in_force,
			filled_qty, avg_fill_price, status, reject_reason,
			parent_order_id, bracket_type, created_at, submitted_at, filled_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (setup_id) WHERE setup_id != '' DO NOTHING`,
		o.ID, o.UserID, o.StrategyID, o.TradovateAccountID, o.SetupID, o.BrokerOrderID,
		o.Symbol, o.Action, o.OrderType, o.OrderQty, o.Price, o.StopPrice, o.TimeInForce,
		o.FilledQty, o.AvgFillPrice, o.Status, o.RejectReason,
		o.ParentOrderID, o.BracketType, o.CreatedAt, o.SubmittedAt, o.FilledAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert order: %w", err)
	}
	return nil
}

func (ps *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	_, err := ps.pool.Exec(ctx, `
		UPDATE orders SET
			broker_order_id = $2, filled_qty = $3, avg_fill_price = $4, status = $5,
			reject_reason = $6, submitted_at = $7, filled_at = $8, updated_at = $9
		WHERE id = $1`,
		o.ID, o.BrokerOrderID, o.FilledQty, o.AvgFillPrice, o.Status,
		o.RejectReason, o.SubmittedAt, o.FilledAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: update order: %w", err)
	}
	return nil
}

func (ps *PostgresStore) FindFillByBrokerFillID(ctx context.Context, brokerFillID string) (*Fill, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT id, order_id, broker_fill_id, qty, price, commission, fill_timestamp
		FROM fills WHERE broker_fill_id = $1`, brokerFillID)

	var f Fill
	err := row.Scan(&f.ID, &f.OrderID, &f.BrokerFillID, &f.Qty, &f.Price, &f.Commission, &f.FillTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: find fill by broker fill id: %w", err)
	}
	return &f, nil
}

func (ps *PostgresStore) InsertFill(ctx context.Context, f *Fill) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO fills (id, order_id, broker_fill_id, qty, price, commission, fill_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (broker_fill_id) WHERE broker_fill_id != '' DO NOTHING`,
		f.ID, f.OrderID, f.BrokerFillID, f.Qty, f.Price, f.Commission, f.FillTimestamp)
	if err != nil {
		return fmt.Errorf("postgres store: insert fill: %w", err)
	}
	return nil
}

func (ps *PostgresStore) ListFillsByOrder(ctx context.Context, orderID string) ([]Fill, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, order_id, broker_fill_id, qty, price, commission, fill_timestamp
		FROM fills WHERE order_id = $1 ORDER BY fill_timestamp ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list fills by order: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.BrokerFillID, &f.Qty, &f.Price, &f.Commission, &f.FillTimestamp); err != nil {
			return nil, fmt.Errorf("postgres store: scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) InsertPosition(ctx context.Context, p *Position) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO positions (
			id, user_id, strategy_id, symbol, direction, net_qty, avg_entry_price,
			stop_price, target_price, stop_order_id, target_order_id,
			unrealized_pnl, realized_pnl, max_favorable_excursion, max_adverse_excursion,
			status, close_reason, opened_at, closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		p.ID, p.UserID, p.StrategyID, p.Symbol, p.Direction, p.NetQty, p.AvgEntryPrice,
		p.StopPrice, p.TargetPrice, p.StopOrderID, p.TargetOrderID,
		p.UnrealizedPnL, p.RealizedPnL, p.MaxFavorableExcursion, p.MaxAdverseExcursion,
		p.Status, p.CloseReason, p.OpenedAt, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres store: insert position: %w", err)
	}
	return nil
}

func (ps *PostgresStore) UpdatePosition(ctx context.Context, p *Position) error {
	_, err := ps.pool.Exec(ctx, `
		UPDATE positions SET
			net_qty = $2, avg_entry_price = $3, stop_price = $4, target_price = $5,
			stop_order_id = $6, target_order_id = $7, unrealized_pnl = $8, realized_pnl = $9,
			max_favorable_excursion = $10, max_adverse_excursion = $11,
			status = $12, close_reason = $13, closed_at = $14
		WHERE id = $1`,
		p.ID, p.NetQty, p.AvgEntryPrice, p.StopPrice, p.TargetPrice,
		p.StopOrderID, p.TargetOrderID, p.UnrealizedPnL, p.RealizedPnL,
		p.MaxFavorableExcursion, p.MaxAdverseExcursion, p.Status, p.CloseReason, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres store: update position: %w", err)
	}
	return nil
}

func (ps *PostgresStore) ListOpenPositions(ctx context.Context, accountID string) ([]Position, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT p.id, p.user_id, p.strategy_id, p.symbol, p.direction, p.net_qty, p.avg_entry_price,
			p.stop_price, p.target_price, p.stop_order_id, p.target_order_id,
			p.unrealized_pnl, p.realized_pnl, p.max_favorable_excursion, p.max_adverse_excursion,
			p.status, p.close_reason, p.opened_at, p.closed_at
		FROM positions p
		JOIN strategies s ON s.id = p.strategy_id
		WHERE s.account_id = $1 AND p.status != 'closed'`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list open positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.UserID, &p.StrategyID, &p.Symbol, &p.Direction, &p.NetQty, &p.AvgEntryPrice,
			&p.StopPrice, &p.TargetPrice, &p.StopOrderID, &p.TargetOrderID,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.MaxFavorableExcursion, &p.MaxAdverseExcursion,
			&p.Status, &p.CloseReason, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) ListClosedPositions(ctx context.Context, accountID string, since, until time.Time) ([]Position, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT p.id, p.user_id, p.strategy_id, p.symbol, p.direction, p.net_qty, p.avg_entry_price,
			p.stop_price, p.target_price, p.stop_order_id, p.target_order_id,
			p.unrealized_pnl, p.realized_pnl, p.max_favorable_excursion, p.max_adverse_excursion,
			p.status, p.close_reason, p.opened_at, p.closed_at
		FROM positions p
		JOIN strategies s ON s.id = p.strategy_id
		WHERE s.account_id = $1 AND p.status = 'closed' AND p.closed_at >= $2 AND p.closed_at < $3
		ORDER BY p.closed_at`, accountID, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list closed positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.UserID, &p.StrategyID, &p.Symbol, &p.Direction, &p.NetQty, &p.AvgEntryPrice,
			&p.StopPrice, &p.TargetPrice, &p.StopOrderID, &p.TargetOrderID,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.MaxFavorableExcursion, &p.MaxAdverseExcursion,
			&p.Status, &p.CloseReason, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetSafetyLimits(ctx context.Context, accountID, strategyID string) (*SafetyLimits, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT account_id, strategy_id, max_position_size, max_concurrent_positions, max_daily_trades, max_daily_loss
		FROM safety_limits WHERE account_id = $1 AND strategy_id = $2`, accountID, strategyID)

	var l SafetyLimits
	err := row.Scan(&l.AccountID, &l.StrategyID, &l.MaxPositionSize, &l.MaxConcurrentPositions, &l.MaxDailyTrades, &l.MaxDailyLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		row = ps.pool.QueryRow(ctx, `
			SELECT account_id, strategy_id, max_position_size, max_concurrent_positions, max_daily_trades, max_daily_loss
			FROM safety_limits WHERE account_id = $1 AND strategy_id = ''`, accountID)
		err = row.Scan(&l.AccountID, &l.StrategyID, &l.MaxPositionSize, &l.MaxConcurrentPositions, &l.MaxDailyTrades, &l.MaxDailyLoss)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get safety limits: %w", err)
	}
	return &l, nil
}

func (ps *PostgresStore) UpsertStrategyState(ctx context.Context, s *StrategyState) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO strategy_state (strategy_id, state_type, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (strategy_id, state_type)
		DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		s.StrategyID, s.StateType, s.Payload, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres store: upsert strategy state: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetActiveStrategyState(ctx context.Context, strategyID string, stateType StrategyStateType) (*StrategyState, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT strategy_id, state_type, payload, expires_at, updated_at
		FROM strategy_state WHERE strategy_id = $1 AND state_type = $2`, strategyID, stateType)

	var s StrategyState
	err := row.Scan(&s.StrategyID, &s.StateType, &s.Payload, &s.ExpiresAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get active strategy state: %w", err)
	}

	if isExpired(s.ExpiresAt, time.Now()) {
		if _, err := ps.pool.Exec(ctx, `DELETE FROM strategy_state WHERE strategy_id = $1 AND state_type = $2`, strategyID, stateType); err != nil {
			return nil, fmt.Errorf("postgres store: delete expired strategy state: %w", err)
		}
		return nil, nil
	}
	return &s, nil
}

func (ps *PostgresStore) DeleteExpiredStrategyStates(ctx context.Context) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM strategy_state WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete expired strategy states: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStore) InsertBehavioralData(ctx context.Context, r *BehavioralDataRecord) error {
	conditions, err := json.Marshal(r.ConditionsMet)
	if err != nil {
		return fmt.Errorf("postgres store: marshal conditions met: %w", err)
	}
	indicators, err := json.Marshal(r.Indicators)
	if err != nil {
		return fmt.Errorf("postgres store: marshal indicators: %w", err)
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO behavioral_data (
			setup_id, strategy_id, symbol, signal_type, direction, price,
			status, reason, conditions_met, indicators, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.SetupID, r.StrategyID, r.Symbol, r.SignalType, r.Direction, r.Price,
		r.Status, r.Reason, conditions, indicators, r.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres store: insert behavioral data: %w", err)
	}
	return nil
}

const orderSelectColumns = `SELECT
	id, user_id, strategy_id, tradovate_account_id, setup_id, broker_order_id,
	symbol, action, order_type, order_qty, price, stop_price, time_in_force,
	filled_qty, avg_fill_price, status, reject_reason,
	parent_order_id, bracket_type, created_at, submitted_at, filled_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.StrategyID, &o.TradovateAccountID, &o.SetupID, &o.BrokerOrderID,
		&o.Symbol, &o.Action, &o.OrderType, &o.OrderQty, &o.Price, &o.StopPrice, &o.TimeInForce,
		&o.FilledQty, &o.AvgFillPrice, &o.Status, &o.RejectReason,
		&o.ParentOrderID, &o.BracketType, &o.CreatedAt, &o.SubmittedAt, &o.FilledAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
