package predictor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/matcher"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/resilience"
)

// DefaultProfileTTL is how long a built profile map stays fresh.
const DefaultProfileTTL = time.Hour

const unknownBucket = "unknown"

// OutcomeSource supplies the terminal submission history profiles are built from.
type OutcomeSource interface {
	ListOutcomes(ctx context.Context) ([]model.SubmissionRecord, error)
}

// Bucket counts outcomes for one industry or state.
type Bucket struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
}

// Rate returns the approval rate of the bucket.
func (b Bucket) Rate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Approved) / float64(b.Total)
}

// CovariateMeans holds cohort means. A nil field means the cohort had no
// observations for that covariate.
type CovariateMeans struct {
	Revenue        *float64 `json:"revenue"`
	FICO           *float64 `json:"fico"`
	TimeInBusiness *float64 `json:"time_in_business"`
	DailyWithhold  *float64 `json:"daily_withhold"`
	Positions      *float64 `json:"positions"`
}

// LenderProfile aggregates historical outcomes for one lender.
type LenderProfile struct {
	Name         string            `json:"name"`
	Total        int               `json:"total"`
	Approved     int               `json:"approved"`
	Declined     int               `json:"declined"`
	Industries   map[string]Bucket `json:"industries"`
	States       map[string]Bucket `json:"states"`
	ApprovedMean CovariateMeans    `json:"approved_means"`
	DeclinedMean CovariateMeans    `json:"declined_means"`
}

// Profiles maps normalized lender name to its profile. Treat as read-only.
type Profiles map[string]*LenderProfile

// Keys returns the profile keys in lexical order.
func (p Profiles) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cohort collects raw covariate values before reduction to means.
type cohort struct {
	revenue, fico, tib, withhold, positions []float64
}

func (c *cohort) add(d model.DealCriteria) {
	push := func(dst *[]float64, v *float64) {
		if v != nil {
			*dst = append(*dst, *v)
		}
	}
	push(&c.revenue, d.MonthlyRevenue)
	push(&c.fico, d.FICO)
	push(&c.tib, d.TimeInBusiness)
	push(&c.withhold, d.DailyWithhold)
	push(&c.positions, d.ExistingPositions)
}

func (c *cohort) means() CovariateMeans {
	return CovariateMeans{
		Revenue:        mean(c.revenue),
		FICO:           mean(c.fico),
		TimeInBusiness: mean(c.tib),
		DailyWithhold:  mean(c.withhold),
		Positions:      mean(c.positions),
	}
}

func mean(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	m := sum / float64(len(vals))
	return &m
}

func bucketKey(s string, normalize func(*string) *string) string {
	if v := normalize(&s); v != nil {
		return *v
	}
	return unknownBucket
}

// BuildProfiles aggregates outcome records into per-lender profiles.
// Records outside the approved/declined classes are ignored. The result
// depends only on the input set.
func BuildProfiles(records []model.SubmissionRecord) Profiles {
	profiles := make(Profiles)
	approved := make(map[string]*cohort)
	declined := make(map[string]*cohort)

	for _, rec := range records {
		isApproved := rec.Status.IsApproved()
		if !isApproved && !rec.Status.IsDeclined() {
			continue
		}
		key := matcher.Normalize(rec.LenderName)
		if key == "" {
			continue
		}

		p, ok := profiles[key]
		if !ok {
			p = &LenderProfile{
				Name:       rec.LenderName,
				Industries: make(map[string]Bucket),
				States:     make(map[string]Bucket),
			}
			profiles[key] = p
			approved[key] = &cohort{}
			declined[key] = &cohort{}
		}

		p.Total++
		ind := bucketKey(rec.Deal.Industry, model.NormalizeIndustry)
		st := bucketKey(rec.Deal.State, model.NormalizeState)
		ib, sb := p.Industries[ind], p.States[st]
		ib.Total++
		sb.Total++

		if isApproved {
			p.Approved++
			ib.Approved++
			sb.Approved++
			approved[key].add(rec.Deal)
		} else {
			p.Declined++
			declined[key].add(rec.Deal)
		}
		p.Industries[ind] = ib
		p.States[st] = sb
	}

	for key, p := range profiles {
		p.ApprovedMean = approved[key].means()
		p.DeclinedMean = declined[key].means()
	}
	return profiles
}

type profileSnapshot struct {
	profiles Profiles
	builtAt  time.Time
}

// ProfileCache owns the cached profile map. The zero snapshot is empty with
// a zero timestamp, so the first Get always builds.
type ProfileCache struct {
	src   OutcomeSource
	ttl   time.Duration
	retry resilience.RetryConfig

	current atomic.Pointer[profileSnapshot]
	buildMu sync.Mutex

	nowFunc func() time.Time
}

// NewProfileCache creates a cache over src. A non-positive ttl uses DefaultProfileTTL.
func NewProfileCache(src OutcomeSource, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	c := &ProfileCache{
		src:     src,
		ttl:     ttl,
		retry:   resilience.DefaultRetryConfig(),
		nowFunc: time.Now,
	}
	c.current.Store(&profileSnapshot{profiles: Profiles{}})
	return c
}

func (c *ProfileCache) fresh(s *profileSnapshot) bool {
	return len(s.profiles) > 0 && c.nowFunc().Sub(s.builtAt) < c.ttl
}

// Get returns the cached profiles, rebuilding when empty or expired.
func (c *ProfileCache) Get(ctx context.Context) (Profiles, error) {
	if s := c.current.Load(); c.fresh(s) {
		return s.profiles, nil
	}

	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	// Another caller may have rebuilt while we waited.
	if s := c.current.Load(); c.fresh(s) {
		return s.profiles, nil
	}
	return c.rebuildLocked(ctx)
}

// Refresh rebuilds the profiles unconditionally.
func (c *ProfileCache) Refresh(ctx context.Context) (Profiles, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return c.rebuildLocked(ctx)
}

// BuiltAt returns when the current snapshot was built (zero if never).
func (c *ProfileCache) BuiltAt() time.Time {
	return c.current.Load().builtAt
}

func (c *ProfileCache) rebuildLocked(ctx context.Context) (Profiles, error) {
	start := c.nowFunc()
	records, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.SubmissionRecord, error) {
		return c.src.ListOutcomes(ctx)
	})
	if err != nil {
		return nil, eris.Wrap(err, "predictor: load outcomes")
	}

	profiles := BuildProfiles(records)
	c.current.Store(&profileSnapshot{profiles: profiles, builtAt: c.nowFunc()})

	zap.L().Info("predictor: profiles rebuilt",
		zap.Int("records", len(records)),
		zap.Int("lenders", len(profiles)),
		zap.Duration("elapsed", c.nowFunc().Sub(start)),
	)
	return profiles, nil
}
