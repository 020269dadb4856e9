// Package submission fans a funding request package out to lenders and
// records each delivery attempt.
package submission

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mca-router/internal/documents"
	"github.com/sells-group/mca-router/internal/matcher"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/requeststate"
	"github.com/sells-group/mca-router/pkg/mailer"
)

var (
	// ErrMissingRequest is returned when a batch names no funding request.
	ErrMissingRequest = eris.New("submission: request id is required")
	// ErrNoLenders is returned when a batch names no lenders.
	ErrNoLenders = eris.New("submission: at least one lender is required")
	// ErrNotResendable is returned when a resend targets a record that is not FAILED.
	ErrNotResendable = eris.New("submission: only failed submissions can be resent")
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetRequest(ctx context.Context, id string) (*model.FundingRequest, error)
	CreateSubmission(ctx context.Context, rec *model.SubmissionRecord) error
	GetSubmission(ctx context.Context, id string) (*model.SubmissionRecord, error)
	UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus, errMsg *string) error
	ListLenders(ctx context.Context) ([]model.Lender, error)
}

// Ranker orders lenders by predicted acceptance.
type Ranker interface {
	PredictAll(ctx context.Context, lenders []string, criteria model.DealCriteria) ([]model.Prediction, error)
}

// Deps bundles the orchestrator's collaborators. Ranker and State are optional.
type Deps struct {
	Store     Store
	Ranker    Ranker
	Documents documents.Fetcher
	Transport mailer.Sender
	State     requeststate.Updater
}

// Orchestrator sends submission batches.
type Orchestrator struct {
	deps          Deps
	maxConcurrent int
	now           func() time.Time
}

// New creates an Orchestrator. maxConcurrent <= 0 means unlimited.
func New(deps Deps, maxConcurrent int) *Orchestrator {
	return &Orchestrator{deps: deps, maxConcurrent: maxConcurrent, now: time.Now}
}

// SendBatch delivers the package to every lender in req. Individual lender
// failures are reported in the result and never abort the batch.
func (o *Orchestrator) SendBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return nil, ErrMissingRequest
	}
	if len(req.Lenders) == 0 {
		return nil, ErrNoLenders
	}

	fr, err := o.deps.Store.GetRequest(ctx, req.RequestID)
	if err != nil {
		return nil, eris.Wrapf(err, "submission: load request %s", req.RequestID)
	}

	log := zap.L().With(zap.String("request_id", req.RequestID))
	criteria := o.criteria(fr)
	candidates := o.rank(ctx, req.Lenders, criteria)

	docs, missing, err := o.deps.Documents.FetchAll(ctx, req.DocumentIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "submission: fetch documents for %s", req.RequestID)
	}
	if len(missing) > 0 {
		log.Warn("submission: documents missing from store", zap.Strings("document_ids", missing))
	}

	dir := &directory{store: o.deps.Store}
	results := make([]LenderResult, len(candidates))

	var g errgroup.Group
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = o.deliver(ctx, fr, criteria, c, docs, req.Message, dir)
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{
		RequestID:        req.RequestID,
		Total:            len(results),
		Successful:       []LenderResult{},
		Failed:           []LenderResult{},
		MissingDocuments: missing,
	}
	for _, r := range results {
		if r.Error == "" {
			out.Successful = append(out.Successful, r)
		} else {
			out.Failed = append(out.Failed, r)
		}
	}

	if len(out.Successful) > 0 && o.deps.State != nil {
		if err := o.deps.State.UpdateState(context.WithoutCancel(ctx), req.RequestID, model.RequestStateSubmitted); err != nil {
			log.Error("submission: request state update failed", zap.Error(err))
			out.StateError = err.Error()
		}
	}

	log.Info("submission: batch complete",
		zap.Int("total", out.Total),
		zap.Int("successful", len(out.Successful)),
		zap.Int("failed", len(out.Failed)),
	)
	return out, nil
}

// Resend re-delivers a FAILED submission. documentIDs defaults to the
// documents of the original attempt.
func (o *Orchestrator) Resend(ctx context.Context, submissionID string, documentIDs []string, msg Message) (*LenderResult, error) {
	rec, err := o.deps.Store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, eris.Wrapf(err, "submission: load %s", submissionID)
	}
	if rec.Status != model.SubmissionFailed {
		return nil, eris.Wrapf(ErrNotResendable, "submission: %s is %s", submissionID, rec.Status)
	}

	if len(documentIDs) == 0 {
		documentIDs = rec.DocumentIDs
	}
	docs, missing, err := o.deps.Documents.FetchAll(ctx, documentIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "submission: fetch documents for %s", submissionID)
	}

	result := LenderResult{Lender: rec.LenderName, SubmissionID: rec.ID, MissingDocuments: missing}
	dir := &directory{store: o.deps.Store}
	addr, cc, err := dir.resolve(ctx, Candidate{Name: rec.LenderName, Email: rec.LenderEmail})
	if err == nil {
		result.Email = addr
		err = o.deps.Transport.Send(ctx, buildMessage(addr, cc, msg, docs))
	}
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		result.Error = err.Error()
		zap.L().Warn("submission: resend failed",
			zap.String("submission_id", rec.ID),
			zap.String("lender", rec.LenderName),
			zap.Error(err),
		)
		if uerr := o.deps.Store.UpdateSubmissionStatus(writeCtx, rec.ID, model.SubmissionFailed, &result.Error); uerr != nil {
			return nil, eris.Wrapf(uerr, "submission: record resend failure for %s", rec.ID)
		}
		return &result, nil
	}

	if err := o.deps.Store.UpdateSubmissionStatus(writeCtx, rec.ID, model.SubmissionSent, nil); err != nil {
		return nil, eris.Wrapf(err, "submission: mark %s sent", rec.ID)
	}
	return &result, nil
}

// criteria returns the request covariates with time in business derived
// from the business start date when one is set.
func (o *Orchestrator) criteria(fr *model.FundingRequest) model.DealCriteria {
	c := fr.Criteria
	if strings.TrimSpace(fr.BusinessStartDate) == "" {
		return c
	}
	months, err := model.MonthsInBusiness(fr.BusinessStartDate, o.now())
	if err != nil {
		zap.L().Warn("submission: using zero time in business",
			zap.String("request_id", fr.ID),
			zap.Error(err),
		)
		months = 0
	}
	c.TimeInBusiness = &months
	return c
}

// rank orders candidates by prediction. On ranking failure the input order
// is kept.
func (o *Orchestrator) rank(ctx context.Context, lenders []Candidate, criteria model.DealCriteria) []rankedCandidate {
	out := make([]rankedCandidate, len(lenders))
	for i, c := range lenders {
		out[i] = rankedCandidate{Candidate: c}
	}
	if o.deps.Ranker == nil {
		return out
	}

	names := make([]string, len(lenders))
	for i, c := range lenders {
		names[i] = c.Name
	}
	preds, err := o.deps.Ranker.PredictAll(ctx, names, criteria)
	if err != nil {
		zap.L().Warn("submission: ranking failed, keeping input order", zap.Error(err))
		return out
	}

	used := make([]bool, len(lenders))
	ranked := make([]rankedCandidate, 0, len(lenders))
	for _, p := range preds {
		for i, c := range lenders {
			if used[i] || c.Name != p.Lender {
				continue
			}
			used[i] = true
			pred := p
			ranked = append(ranked, rankedCandidate{Candidate: c, Prediction: &pred})
			break
		}
	}
	for i, c := range lenders {
		if !used[i] {
			ranked = append(ranked, rankedCandidate{Candidate: c})
		}
	}
	return ranked
}

func (o *Orchestrator) deliver(
	ctx context.Context,
	fr *model.FundingRequest,
	criteria model.DealCriteria,
	c rankedCandidate,
	docs []model.Document,
	msg Message,
	dir *directory,
) LenderResult {
	result := LenderResult{Lender: c.Name, Prediction: c.Prediction}
	log := zap.L().With(zap.String("request_id", fr.ID), zap.String("lender", c.Name))

	addr, cc, err := dir.resolve(ctx, c.Candidate)
	if err != nil {
		log.Warn("submission: lender has no address", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Email = addr

	rec := &model.SubmissionRecord{
		RequestID:   fr.ID,
		LenderName:  c.Name,
		LenderEmail: addr,
		Status:      model.SubmissionPending,
		Deal:        criteria,
		DocumentIDs: documentIDs(docs),
	}
	if err := o.deps.Store.CreateSubmission(ctx, rec); err != nil {
		log.Warn("submission: create record failed", zap.Error(err))
		result.Error = eris.Wrap(err, "submission: create record").Error()
		return result
	}
	result.SubmissionID = rec.ID

	sendErr := o.deps.Transport.Send(ctx, buildMessage(addr, cc, msg, docs))

	// The outcome of an attempted send is recorded even if ctx is cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if sendErr != nil {
		log.Warn("submission: delivery failed", zap.String("submission_id", rec.ID), zap.Error(sendErr))
		result.Error = sendErr.Error()
		if uerr := o.deps.Store.UpdateSubmissionStatus(writeCtx, rec.ID, model.SubmissionFailed, &result.Error); uerr != nil {
			log.Error("submission: record failure status", zap.String("submission_id", rec.ID), zap.Error(uerr))
		}
		return result
	}

	if err := o.deps.Store.UpdateSubmissionStatus(writeCtx, rec.ID, model.SubmissionSent, nil); err != nil {
		log.Error("submission: record sent status", zap.String("submission_id", rec.ID), zap.Error(err))
	}
	return result
}

// directory resolves lender addresses, loading the lender directory at most
// once per batch.
type directory struct {
	store   Store
	once    sync.Once
	lenders []model.Lender
	err     error
}

func (d *directory) load(ctx context.Context) ([]model.Lender, error) {
	d.once.Do(func() {
		d.lenders, d.err = d.store.ListLenders(ctx)
	})
	return d.lenders, d.err
}

// resolve returns the delivery address and cc list for c. A valid supplied
// address wins; otherwise the directory entry matched by name is used.
func (d *directory) resolve(ctx context.Context, c Candidate) (string, []string, error) {
	if addr, ok := validAddress(c.Email); ok {
		return addr, nil, nil
	}

	lenders, err := d.load(ctx)
	if err != nil {
		return "", nil, eris.Wrap(err, "submission: load lender directory")
	}
	if l, ok := matcher.Lookup(lenders, func(l model.Lender) string { return l.Name }, c.Name); ok {
		if addr, ok := validAddress(l.Email); ok {
			return addr, validAddresses(l.CC), nil
		}
	}
	return "", nil, eris.Errorf("no valid email address for lender %s", c.Name)
}

func validAddress(s string) (string, bool) {
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	return a.Address, true
}

func validAddresses(in []string) []string {
	var out []string
	for _, s := range in {
		if a, ok := validAddress(s); ok {
			out = append(out, a)
		}
	}
	return out
}

func buildMessage(to string, cc []string, msg Message, docs []model.Document) mailer.Message {
	attachments := make([]mailer.Attachment, len(docs))
	for i, d := range docs {
		attachments[i] = mailer.Attachment{Filename: d.Filename, ContentType: d.ContentType, Data: d.Data}
	}
	return mailer.Message{
		To:          []string{to},
		CC:          cc,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		Attachments: attachments,
	}
}

func documentIDs(docs []model.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
