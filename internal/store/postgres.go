package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mca-router/internal/db"
	"github.com/sells-group/mca-router/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS funding_requests (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_name       TEXT NOT NULL,
	external_id         TEXT NOT NULL DEFAULT '',
	business_start_date TEXT NOT NULL DEFAULT '',
	criteria            JSONB NOT NULL,
	state               TEXT NOT NULL DEFAULT 'NEW',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id     TEXT NOT NULL,
	lender_name    TEXT NOT NULL,
	lender_email   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'PENDING',
	decline_reason TEXT,
	raw_response   TEXT,
	offer          JSONB,
	deal           JSONB NOT NULL,
	document_ids   JSONB NOT NULL DEFAULT '[]',
	error_message  TEXT,
	rule_analyzed  BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_submissions_request_id ON submissions(request_id);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_decline_queue ON submissions(created_at) WHERE status = 'DECLINED' AND NOT rule_analyzed;

CREATE TABLE IF NOT EXISTS lenders (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL DEFAULT '',
	cc         JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suggested_rules (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lender_name          TEXT NOT NULL,
	rule_type            TEXT NOT NULL,
	industry             TEXT,
	state                TEXT,
	condition_field      TEXT,
	condition_operator   TEXT,
	condition_value      TEXT,
	explanation          TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL,
	is_active            BOOLEAN NOT NULL DEFAULT false,
	confidence           DOUBLE PRECISION,
	source_submission_id TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_suggested_rules_lender ON suggested_rules(lower(lender_name));
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, rec *model.SubmissionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = model.SubmissionPending
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	deal, err := marshalJSON(rec.Deal, "deal")
	if err != nil {
		return err
	}
	docs, err := marshalJSON(nonNilStrings(rec.DocumentIDs), "document ids")
	if err != nil {
		return err
	}
	offer, err := marshalOffer(rec.Offer)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.RequestID, rec.LenderName, rec.LenderEmail, string(rec.Status),
		rec.DeclineReason, rec.RawResponse, offer, deal, docs,
		rec.ErrorMessage, rec.RuleAnalyzed, now, now, rec.SentAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert submission")
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	rec, err := scanPgSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: submission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.SubmissionRecord, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RequestID != "" {
		query += fmt.Sprintf(` AND request_id = $%d`, argIdx)
		args = append(args, filter.RequestID)
		argIdx++
	}
	if filter.LenderName != "" {
		query += fmt.Sprintf(` AND lower(lender_name) = lower($%d)`, argIdx)
		args = append(args, filter.LenderName)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statusStrings(filter.Statuses))
		argIdx++
	}
	if filter.Unanalyzed {
		query += ` AND NOT rule_analyzed`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanPgSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus, errMsg *string) error {
	if !status.Valid() {
		return eris.Errorf("postgres: unknown submission status %q", status)
	}
	now := time.Now().UTC()
	var sentAt *time.Time
	if status == model.SubmissionSent {
		sentAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, error_message = $2, updated_at = $3, sent_at = COALESCE($4, sent_at)
		 WHERE id = $5 AND status = ANY($6)`,
		string(status), errMsg, now, sentAt, id, statusStrings(model.TransitionSources(status)),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission status %s", id)
	}
	return s.checkTransition(ctx, tag, id, status)
}

func (s *PostgresStore) RecordResponse(ctx context.Context, id string, resp model.LenderResponse) error {
	if err := validateResponse(resp); err != nil {
		return err
	}
	offer, err := marshalOffer(resp.Offer)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, decline_reason = $2, raw_response = $3, offer = $4, updated_at = $5
		 WHERE id = $6 AND status = ANY($7)`,
		string(resp.Status), resp.DeclineReason, resp.RawResponse, offer, time.Now().UTC(), id,
		statusStrings(model.TransitionSources(resp.Status)),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record response %s", id)
	}
	return s.checkTransition(ctx, tag, id, resp.Status)
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, id string, to model.SubmissionStatus) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM submissions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: submission %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: get submission status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "postgres: submission %s %s -> %s", id, current, to)
}

func (s *PostgresStore) ListOutcomes(ctx context.Context) ([]model.SubmissionRecord, error) {
	return s.ListSubmissions(ctx, outcomeFilter())
}

func (s *PostgresStore) ListUnanalyzedDeclines(ctx context.Context, limit int) ([]model.SubmissionRecord, error) {
	return s.ListSubmissions(ctx, unanalyzedDeclineFilter(limit))
}

func (s *PostgresStore) MarkRuleAnalyzed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET rule_analyzed = true, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark rule analyzed %s", id)
	}
	return pgRowsAffected(tag, "submission", id)
}

func (s *PostgresStore) UpsertRequest(ctx context.Context, req *model.FundingRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.State == "" {
		req.State = model.RequestStateNew
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	criteria, err := marshalJSON(req.Criteria, "criteria")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO funding_requests (id, business_name, external_id, business_start_date, criteria, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			external_id = EXCLUDED.external_id,
			business_start_date = EXCLUDED.business_start_date,
			criteria = EXCLUDED.criteria,
			updated_at = EXCLUDED.updated_at`,
		req.ID, req.BusinessName, req.ExternalID, req.BusinessStartDate, criteria, string(req.State), req.CreatedAt, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert request %s", req.ID)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.FundingRequest, error) {
	var (
		req      model.FundingRequest
		criteria []byte
		state    string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, business_name, external_id, business_start_date, criteria, state, created_at, updated_at
		 FROM funding_requests WHERE id = $1`, id,
	).Scan(&req.ID, &req.BusinessName, &req.ExternalID, &req.BusinessStartDate, &criteria, &state, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	req.State = model.RequestState(state)
	if err := unmarshalJSON(criteria, &req.Criteria, "criteria"); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) UpdateRequestState(ctx context.Context, id string, state model.RequestState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funding_requests SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request state %s", id)
	}
	return pgRowsAffected(tag, "request", id)
}

var lenderUpsert = db.UpsertConfig{
	Table:        "lenders",
	Columns:      []string{"id", "name", "email", "cc", "created_at", "updated_at"},
	ConflictKeys: []string{"name"},
	KeepCols:     []string{"id", "created_at"},
}

func (s *PostgresStore) UpsertLenders(ctx context.Context, lenders []model.Lender) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(lenders))
	for _, l := range lenders {
		id := l.ID
		if id == "" {
			id = uuid.New().String()
		}
		cc, err := marshalJSON(nonNilStrings(l.CC), "lender cc")
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{id, strings.TrimSpace(l.Name), strings.TrimSpace(l.Email), string(cc), now, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, lenderUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert lenders")
	}
	return n, nil
}

func (s *PostgresStore) ListLenders(ctx context.Context) ([]model.Lender, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, cc, created_at, updated_at FROM lenders ORDER BY name ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lenders")
	}
	defer rows.Close()

	var out []model.Lender
	for rows.Next() {
		var (
			l  model.Lender
			cc []byte
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &cc, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lender")
		}
		if err := unmarshalJSON(cc, &l.CC, "lender cc"); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list lenders iterate")
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule *model.SuggestedRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO suggested_rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rule.ID, rule.LenderName, string(rule.RuleType), rule.Industry, rule.State,
		rule.ConditionField, rule.ConditionOperator, rule.ConditionValue, rule.Explanation,
		string(rule.Source), rule.IsActive, rule.Confidence, rule.SourceSubmissionID, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert rule")
	}
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.SuggestedRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM suggested_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: rule %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rule %s", id)
	}
	return rule, nil
}

func (s *PostgresStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.SuggestedRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM suggested_rules WHERE true`
	args := []any{}
	argIdx := 1

	if filter.LenderName != "" {
		query += fmt.Sprintf(` AND lower(lender_name) = lower($%d)`, argIdx)
		args = append(args, filter.LenderName)
		argIdx++
	}
	if filter.RuleType != "" {
		query += fmt.Sprintf(` AND rule_type = $%d`, argIdx)
		args = append(args, string(filter.RuleType))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.Active != nil {
		query += fmt.Sprintf(` AND is_active = $%d`, argIdx)
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var out []model.SuggestedRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		out = append(out, *rule)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

func (s *PostgresStore) ApproveRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE suggested_rules
		 SET is_active = true,
			source = CASE WHEN source = $1 THEN $2 ELSE source END,
			updated_at = $3
		 WHERE id = $4`,
		string(model.RuleSourceAISuggested), string(model.RuleSourceAIApplied), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: approve rule %s", id)
	}
	return pgRowsAffected(tag, "rule", id)
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM suggested_rules WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete rule %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func pgRowsAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: %s %s", entity, id)
	}
	return nil
}

func scanPgSubmission(row scannable) (*model.SubmissionRecord, error) {
	var (
		rec    model.SubmissionRecord
		status string
		offer  *[]byte
		deal   []byte
		docs   []byte
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.LenderName, &rec.LenderEmail, &status,
		&rec.DeclineReason, &rec.RawResponse, &offer, &deal, &docs,
		&rec.ErrorMessage, &rec.RuleAnalyzed, &rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = model.SubmissionStatus(status)
	if offer != nil {
		s := string(*offer)
		if rec.Offer, err = unmarshalOffer(&s); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(deal, &rec.Deal, "deal"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(docs, &rec.DocumentIDs, "document ids"); err != nil {
		return nil, err
	}
	return &rec, nil
}

func statusStrings(statuses []model.SubmissionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
