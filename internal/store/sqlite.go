package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mca-router/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funding_requests (
	id                  TEXT PRIMARY KEY,
	business_name       TEXT NOT NULL,
	external_id         TEXT NOT NULL DEFAULT '',
	business_start_date TEXT NOT NULL DEFAULT '',
	criteria            TEXT NOT NULL,
	state               TEXT NOT NULL DEFAULT 'NEW',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS submissions (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL,
	lender_name    TEXT NOT NULL,
	lender_email   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'PENDING',
	decline_reason TEXT,
	raw_response   TEXT,
	offer          TEXT,
	deal           TEXT NOT NULL,
	document_ids   TEXT NOT NULL DEFAULT '[]',
	error_message  TEXT,
	rule_analyzed  INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	sent_at        DATETIME
);

CREATE TABLE IF NOT EXISTS lenders (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL DEFAULT '',
	cc         TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS suggested_rules (
	id                   TEXT PRIMARY KEY,
	lender_name          TEXT NOT NULL,
	rule_type            TEXT NOT NULL,
	industry             TEXT,
	state                TEXT,
	condition_field      TEXT,
	condition_operator   TEXT,
	condition_value      TEXT,
	explanation          TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL,
	is_active            INTEGER NOT NULL DEFAULT 0,
	confidence           REAL,
	source_submission_id TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_request_id ON submissions(request_id);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_decline_queue ON submissions(status, rule_analyzed);
CREATE INDEX IF NOT EXISTS idx_suggested_rules_lender ON suggested_rules(lender_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const submissionColumns = `id, request_id, lender_name, lender_email, status, decline_reason, raw_response, offer, deal, document_ids, error_message, rule_analyzed, created_at, updated_at, sent_at`

func (s *SQLiteStore) CreateSubmission(ctx context.Context, rec *model.SubmissionRecord) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.LenderName, rec.LenderEmail, string(rec.Status),
		rec.DeclineReason, rec.RawResponse, offer, string(deal), string(docs),
		rec.ErrorMessage, rec.RuleAnalyzed, now, now, rec.SentAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert submission")
	}
	return nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	rec, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: submission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get submission %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.SubmissionRecord, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any

	if filter.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, filter.RequestID)
	}
	if filter.LenderName != "" {
		query += ` AND lower(lender_name) = lower(?)`
		args = append(args, filter.LenderName)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		args = append(args, statusArgs(filter.Statuses)...)
	}
	if filter.Unanalyzed {
		query += ` AND rule_analyzed = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus, errMsg *string) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: unknown submission status %q", status)
	}
	now := time.Now().UTC()
	var sentAt *time.Time
	if status == model.SubmissionSent {
		sentAt = &now
	}

	sources := model.TransitionSources(status)
	args := []any{string(status), errMsg, now, sentAt, id}
	args = append(args, statusArgs(sources)...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, error_message = ?, updated_at = ?, sent_at = COALESCE(?, sent_at)
		 WHERE id = ? AND status IN (`+placeholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission status %s", id)
	}
	return s.checkTransition(ctx, res, id, status)
}

func (s *SQLiteStore) RecordResponse(ctx context.Context, id string, resp model.LenderResponse) error {
	if err := validateResponse(resp); err != nil {
		return err
	}
	offer, err := marshalOffer(resp.Offer)
	if err != nil {
		return err
	}

	sources := model.TransitionSources(resp.Status)
	args := []any{string(resp.Status), resp.DeclineReason, resp.RawResponse, offer, time.Now().UTC(), id}
	args = append(args, statusArgs(sources)...)

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, decline_reason = ?, raw_response = ?, offer = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record response %s", id)
	}
	return s.checkTransition(ctx, res, id, resp.Status)
}

// checkTransition resolves a zero-row guarded update into either
// ErrNotFound or ErrInvalidTransition.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id string, to model.SubmissionStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: submission %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get submission status %s", id)
	}
	return eris.Wrapf(ErrInvalidTransition, "sqlite: submission %s %s -> %s", id, current, to)
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context) ([]model.SubmissionRecord, error) {
	return s.ListSubmissions(ctx, outcomeFilter())
}

func (s *SQLiteStore) ListUnanalyzedDeclines(ctx context.Context, limit int) ([]model.SubmissionRecord, error) {
	return s.ListSubmissions(ctx, unanalyzedDeclineFilter(limit))
}

func (s *SQLiteStore) MarkRuleAnalyzed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET rule_analyzed = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark rule analyzed %s", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) UpsertRequest(ctx context.Context, req *model.FundingRequest) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO funding_requests (id, business_name, external_id, business_start_date, criteria, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			business_name = excluded.business_name,
			external_id = excluded.external_id,
			business_start_date = excluded.business_start_date,
			criteria = excluded.criteria,
			updated_at = excluded.updated_at`,
		req.ID, req.BusinessName, req.ExternalID, req.BusinessStartDate, string(criteria), string(req.State), req.CreatedAt, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert request %s", req.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.FundingRequest, error) {
	var (
		req      model.FundingRequest
		criteria string
		state    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, business_name, external_id, business_start_date, criteria, state, created_at, updated_at
		 FROM funding_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.BusinessName, &req.ExternalID, &req.BusinessStartDate, &criteria, &state, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	req.State = model.RequestState(state)
	if err := unmarshalJSON([]byte(criteria), &req.Criteria, "criteria"); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *SQLiteStore) UpdateRequestState(ctx context.Context, id string, state model.RequestState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE funding_requests SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request state %s", id)
	}
	return checkRowsAffected(res, "request", id)
}

func (s *SQLiteStore) UpsertLenders(ctx context.Context, lenders []model.Lender) (int64, error) {
	if len(lenders) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin lender upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lenders (id, name, email, cc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET email = excluded.email, cc = excluded.cc, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare lender upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, l := range lenders {
		id := l.ID
		if id == "" {
			id = uuid.New().String()
		}
		cc, err := marshalJSON(nonNilStrings(l.CC), "lender cc")
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, id, strings.TrimSpace(l.Name), strings.TrimSpace(l.Email), string(cc), now, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert lender %s", l.Name)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit lender upsert")
	}
	return total, nil
}

func (s *SQLiteStore) ListLenders(ctx context.Context) ([]model.Lender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, cc, created_at, updated_at FROM lenders ORDER BY name ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lenders")
	}
	defer rows.Close()

	var out []model.Lender
	for rows.Next() {
		var (
			l  model.Lender
			cc string
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &cc, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lender")
		}
		if err := unmarshalJSON([]byte(cc), &l.CC, "lender cc"); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list lenders iterate")
}

const ruleColumns = `id, lender_name, rule_type, industry, state, condition_field, condition_operator, condition_value, explanation, source, is_active, confidence, source_submission_id, created_at, updated_at`

func (s *SQLiteStore) CreateRule(ctx context.Context, rule *model.SuggestedRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suggested_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.LenderName, string(rule.RuleType), rule.Industry, rule.State,
		rule.ConditionField, rule.ConditionOperator, rule.ConditionValue, rule.Explanation,
		string(rule.Source), rule.IsActive, rule.Confidence, rule.SourceSubmissionID, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert rule")
	}
	return nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.SuggestedRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM suggested_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: rule %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rule %s", id)
	}
	return rule, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.SuggestedRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM suggested_rules WHERE 1=1`
	var args []any

	if filter.LenderName != "" {
		query += ` AND lower(lender_name) = lower(?)`
		args = append(args, filter.LenderName)
	}
	if filter.RuleType != "" {
		query += ` AND rule_type = ?`
		args = append(args, string(filter.RuleType))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Active != nil {
		query += ` AND is_active = ?`
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()

	var out []model.SuggestedRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		out = append(out, *rule)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func (s *SQLiteStore) ApproveRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE suggested_rules
		 SET is_active = 1,
			source = CASE WHEN source = ? THEN ? ELSE source END,
			updated_at = ?
		 WHERE id = ?`,
		string(model.RuleSourceAISuggested), string(model.RuleSourceAIApplied), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: approve rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suggested_rules WHERE id = ?`, id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete rule %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// checkRowsAffected returns ErrNotFound if no rows were affected.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

// scannable is implemented by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanSubmission(row scannable) (*model.SubmissionRecord, error) {
	var (
		rec      model.SubmissionRecord
		status   string
		offer    sql.NullString
		deal     string
		docs     string
		analyzed bool
		sentAt   sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.LenderName, &rec.LenderEmail, &status,
		&rec.DeclineReason, &rec.RawResponse, &offer, &deal, &docs,
		&rec.ErrorMessage, &analyzed, &rec.CreatedAt, &rec.UpdatedAt, &sentAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = model.SubmissionStatus(status)
	rec.RuleAnalyzed = analyzed
	if sentAt.Valid {
		t := sentAt.Time
		rec.SentAt = &t
	}
	if offer.Valid {
		if rec.Offer, err = unmarshalOffer(&offer.String); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON([]byte(deal), &rec.Deal, "deal"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(docs), &rec.DocumentIDs, "document ids"); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRule(row scannable) (*model.SuggestedRule, error) {
	var (
		rule     model.SuggestedRule
		ruleType string
		source   string
	)
	err := row.Scan(
		&rule.ID, &rule.LenderName, &ruleType, &rule.Industry, &rule.State,
		&rule.ConditionField, &rule.ConditionOperator, &rule.ConditionValue, &rule.Explanation,
		&source, &rule.IsActive, &rule.Confidence, &rule.SourceSubmissionID, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.RuleType = model.RuleType(ruleType)
	rule.Source = model.RuleSource(source)
	return &rule, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
