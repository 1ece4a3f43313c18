package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"carrierplan/internal/model"
)

// schema is applied by Migrate; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS plans (
    id           uuid PRIMARY KEY,
    tenant_id    text NOT NULL,
    source       text,
    status       text NOT NULL,
    error        text,
    total_cost   double precision NOT NULL DEFAULT 0,
    routes       jsonb,
    created_at   timestamptz NOT NULL DEFAULT now(),
    completed_at timestamptz
);
CREATE INDEX IF NOT EXISTS plans_tenant_created ON plans (tenant_id, created_at, id);

CREATE TABLE IF NOT EXISTS plan_metrics (
    id             uuid PRIMARY KEY,
    tenant_id      text NOT NULL,
    plan_id        uuid NOT NULL,
    policy         text NOT NULL,
    tasks          int NOT NULL DEFAULT 0,
    carriers       int NOT NULL DEFAULT 0,
    iterations     int NOT NULL DEFAULT 0,
    candidates     int NOT NULL DEFAULT 0,
    infeasible     int NOT NULL DEFAULT 0,
    accepted       int NOT NULL DEFAULT 0,
    accepted_worse int NOT NULL DEFAULT 0,
    improvements   int NOT NULL DEFAULT 0,
    initial_cost   double precision,
    best_cost      double precision,
    final_cost     double precision,
    elapsed_ms     bigint NOT NULL DEFAULT 0,
    snapshots      jsonb,
    created_at     timestamptz NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, plan_id, policy)
);

CREATE TABLE IF NOT EXISTS optimizer_config (
    tenant_id  text PRIMARY KEY,
    config     jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
);
`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }

// Migrate creates the plan tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreatePlan(ctx context.Context, pl model.Plan) (model.Plan, error) {
	if pl.ID == "" { pl.ID = uuid.New().String() }
	if pl.CreatedAt.IsZero() { pl.CreatedAt = time.Now().UTC() }
	routes, err := marshalJSON(pl.Routes)
	if err != nil { return model.Plan{}, err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO plans (id, tenant_id, source, status, error, total_cost, routes, created_at, completed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		pl.ID, pl.TenantID, nullIfEmpty(pl.Source), pl.Status, nullIfEmpty(pl.Error), pl.TotalCost, routes, pl.CreatedAt, pl.CompletedAt)
	if err != nil { return model.Plan{}, fmt.Errorf("create plan: %w", err) }
	return pl, nil
}

func (p *Postgres) UpdatePlan(ctx context.Context, pl model.Plan) error {
	routes, err := marshalJSON(pl.Routes)
	if err != nil { return err }
	res, err := p.db.ExecContext(ctx, `UPDATE plans SET status=$3, error=$4, total_cost=$5, routes=$6, completed_at=$7 WHERE tenant_id=$1 AND id=$2`,
		pl.TenantID, pl.ID, pl.Status, nullIfEmpty(pl.Error), pl.TotalCost, routes, pl.CompletedAt)
	if err != nil { return fmt.Errorf("update plan: %w", err) }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

const planColumns = `id::text, tenant_id, COALESCE(source,''), status, COALESCE(error,''), total_cost, routes, created_at, completed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanPlan(row rowScanner) (model.Plan, error) {
	var pl model.Plan
	var routes []byte
	var completed sql.NullTime
	if err := row.Scan(&pl.ID, &pl.TenantID, &pl.Source, &pl.Status, &pl.Error, &pl.TotalCost, &routes, &pl.CreatedAt, &completed); err != nil {
		return model.Plan{}, err
	}
	if completed.Valid { t := completed.Time; pl.CompletedAt = &t }
	if len(routes) > 0 {
		if err := json.Unmarshal(routes, &pl.Routes); err != nil { return model.Plan{}, fmt.Errorf("decode routes: %w", err) }
	}
	return pl, nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	if _, err := uuid.Parse(planID); err != nil { return model.Plan{}, ErrNotFound }
	pl, err := scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, planID))
	if errors.Is(err, sql.ErrNoRows) { return model.Plan{}, ErrNotFound }
	return pl, err
}

// ListPlans pages in creation order; the cursor is the last id of the previous page.
func (p *Postgres) ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Plan, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + planColumns + ` FROM plans WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil { return nil, "", fmt.Errorf("list plans: bad cursor") }
		args = append(args, cursor)
		q += fmt.Sprintf(` AND (created_at, id) > (SELECT created_at, id FROM plans WHERE id=$%d)`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", fmt.Errorf("list plans: %w", err) }
	defer rows.Close()
	out := []model.Plan{}
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil { return nil, "", err }
		out = append(out, pl)
	}
	if err := rows.Err(); err != nil { return nil, "", err }
	next := ""
	if len(out) == limit { next = out[len(out)-1].ID }
	return out, next, nil
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, m model.PlanMetrics) error {
	snaps, err := marshalJSON(m.Snapshots)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO plan_metrics (id, tenant_id, plan_id, policy, tasks, carriers, iterations, candidates, infeasible, accepted, accepted_worse, improvements, initial_cost, best_cost, final_cost, elapsed_ms, snapshots)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (tenant_id, plan_id, policy) DO UPDATE SET
          tasks=$5, carriers=$6, iterations=$7, candidates=$8, infeasible=$9, accepted=$10, accepted_worse=$11, improvements=$12, initial_cost=$13, best_cost=$14, final_cost=$15, elapsed_ms=$16, snapshots=$17, created_at=now()`,
		uuid.New().String(), m.TenantID, m.PlanID, m.Policy,
		m.Tasks, m.Carriers, m.Iterations, m.Candidates, m.Infeasible, m.Accepted, m.AcceptedWorse, m.Improvements,
		m.InitialCost, m.BestCost, m.FinalCost, m.ElapsedMs, snaps,
	)
	if err != nil { return fmt.Errorf("save plan metrics: %w", err) }
	return nil
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, tenantID, planID, policy string) ([]model.PlanMetrics, error) {
	q := `SELECT plan_id::text, tenant_id, policy, tasks, carriers, iterations, candidates, infeasible, accepted, accepted_worse, improvements,
        COALESCE(initial_cost,0), COALESCE(best_cost,0), COALESCE(final_cost,0), elapsed_ms, snapshots, created_at FROM plan_metrics WHERE tenant_id=$1`
	args := []any{tenantID}
	if planID != "" {
		if _, err := uuid.Parse(planID); err != nil { return []model.PlanMetrics{}, nil }
		args = append(args, planID)
		q += fmt.Sprintf(` AND plan_id=$%d`, len(args))
	}
	if policy != "" {
		args = append(args, policy)
		q += fmt.Sprintf(` AND policy=$%d`, len(args))
	}
	q += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, fmt.Errorf("list plan metrics: %w", err) }
	defer rows.Close()
	out := []model.PlanMetrics{}
	for rows.Next() {
		var m model.PlanMetrics
		var snaps []byte
		if err := rows.Scan(&m.PlanID, &m.TenantID, &m.Policy, &m.Tasks, &m.Carriers, &m.Iterations, &m.Candidates, &m.Infeasible, &m.Accepted, &m.AcceptedWorse, &m.Improvements,
			&m.InitialCost, &m.BestCost, &m.FinalCost, &m.ElapsedMs, &snaps, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(snaps) > 0 {
			if err := json.Unmarshal(snaps, &m.Snapshots); err != nil { return nil, fmt.Errorf("decode snapshots: %w", err) }
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (*model.OptimizerConfig, error) {
	row := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) { return nil, nil }
		return nil, err
	}
	var cfg model.OptimizerConfig
	if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
	return &cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg model.OptimizerConfig) error {
	js, err := json.Marshal(cfg)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

// marshalJSON encodes v for a jsonb column; empty slices are stored as NULL.
func marshalJSON[T any](v []T) (any, error) {
	if len(v) == 0 { return nil, nil }
	b, err := json.Marshal(v)
	if err != nil { return nil, err }
	return b, nil
}
