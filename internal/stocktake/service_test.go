package stocktake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/catalog"
)

type memDocRepo struct {
	mu      sync.Mutex
	headers map[string]Header
	lines   map[string][]Line
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{headers: make(map[string]Header), lines: make(map[string][]Line)}
}

func (r *memDocRepo) CreateHeader(ctx context.Context, h Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers[h.DocNo] = h
	return nil
}

func (r *memDocRepo) GetHeader(ctx context.Context, docNo string) (Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[docNo]
	if !ok {
		return Header{}, ErrNotFound
	}
	return h, nil
}

func (r *memDocRepo) ListHeaders(ctx context.Context, siteCode string, status Status, limit, offset int) ([]Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Header
	for _, h := range r.headers {
		if siteCode != "" && h.SiteCode != siteCode {
			continue
		}
		if status != "" && h.Status != status {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (r *memDocRepo) UpdateRemark(ctx context.Context, docNo, remark string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[docNo]
	if !ok || h.Status != StatusOpen {
		return ErrNotFound
	}
	h.Remark = remark
	r.headers[docNo] = h
	return nil
}

func (r *memDocRepo) Delete(ctx context.Context, docNo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.headers, docNo)
	delete(r.lines, docNo)
	return nil
}

func (r *memDocRepo) ReplaceLines(ctx context.Context, docNo string, lines []Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[docNo] = lines
	return nil
}

func (r *memDocRepo) LoadLines(ctx context.Context, docNo string) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[docNo], nil
}

func (r *memDocRepo) MarkPosted(ctx context.Context, docNo string, at time.Time, by int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[docNo]
	if !ok {
		return ErrNotFound
	}
	h.Status = StatusPosted
	h.PostedAt = &at
	h.PostedBy = &by
	r.headers[docNo] = h
	return nil
}

type memCatalog struct {
	items map[string]catalog.Item
	sites map[string]catalog.Site
}

func newMemCatalog(items ...catalog.Item) *memCatalog {
	c := &memCatalog{items: make(map[string]catalog.Item), sites: map[string]catalog.Site{"S01": {Code: "S01", Name: "Main"}}}
	for _, it := range items {
		c.items[it.Code+"|"+it.UOM] = it
	}
	return c
}

func (c *memCatalog) SearchItems(ctx context.Context, filter catalog.Filter) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, it := range c.items {
		out = append(out, it)
	}
	return out, nil
}

func (c *memCatalog) GetItem(ctx context.Context, code, uom string) (catalog.Item, error) {
	it, ok := c.items[code+"|"+uom]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return it, nil
}

func (c *memCatalog) GetSite(ctx context.Context, code string) (catalog.Site, error) {
	s, ok := c.sites[code]
	if !ok {
		return catalog.Site{}, catalog.ErrSiteNotFound
	}
	return s, nil
}

type memMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *memMetrics) ObservePosting(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

type memIntegration struct{ events []PostedEvent }

func (m *memIntegration) HandleStockTakePosted(ctx context.Context, evt PostedEvent) error {
	m.events = append(m.events, evt)
	return nil
}

type serviceFixture struct {
	svc         *Service
	repo        *memDocRepo
	ledger      *memLedger
	metrics     *memMetrics
	integration *memIntegration
}

func newServiceFixture(t *testing.T, l *memLedger) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemDocRepo()
	cfg := Config{BatchTracking: true}
	metrics := &memMetrics{}
	integration := &memIntegration{}
	cat := newMemCatalog(
		catalog.Item{Code: "SKU-1", Description: "Widget", UOM: "EA", UnitPrice: 2},
		catalog.Item{Code: "SKU-2", Description: "Gadget", UOM: "EA", UnitPrice: 5},
	)

	svc := NewService(ServiceParams{
		Repo:         repo,
		Sessions:     NewSessionStore(client, time.Hour),
		Catalog:      cat,
		Ledger:       l,
		Orchestrator: NewOrchestrator(l, NewMatcher(l, cfg), repo, &memAudit{}, nil, cfg),
		Generator:    NewAdjustmentGenerator(l, repo, &memAdjustments{}, &memNumbers{}, newMemIdempotency(), nil, cfg),
		Numbers:      &memNumbers{},
		Audit:        &memAudit{},
		Integration:  integration,
		Metrics:      metrics,
		Config:       cfg,
	})
	return &serviceFixture{svc: svc, repo: repo, ledger: l, metrics: metrics, integration: integration}
}

func TestServiceCountingFlowEndToEnd(t *testing.T) {
	l := newMemLedger(batchRow("SKU-1", "S01", "EA", "", nil, 10))
	f := newServiceFixture(t, l)
	ctx := context.Background()

	header, err := f.svc.Create(ctx, CreateInput{SiteCode: "S01", Remark: "monthly count"}, 3)
	require.NoError(t, err)
	require.Equal(t, "STK-S01-000001", header.DocNo)
	require.Equal(t, StatusOpen, header.Status)

	_, _, err = f.svc.BeginSession(ctx, header.DocNo, catalog.Filter{Search: "wid"})
	require.NoError(t, err)

	sess, err := f.svc.SelectItems(ctx, header.DocNo, []ItemRef{{ItemCode: "SKU-1", UOM: "EA"}})
	require.NoError(t, err)
	require.Len(t, sess.Selected, 1)
	require.InDelta(t, 10, sess.Selected[0].OnHandQty, 1e-9)

	sess, err = f.svc.Proceed(ctx, header.DocNo)
	require.NoError(t, err)
	require.Equal(t, PhaseEnteringQuantities, sess.Phase)

	counted := 12.0
	confirmed := true
	_, err = f.svc.UpdateLine(ctx, header.DocNo, "SKU-1", "EA", UpdateLineInput{CountedQty: &counted, Confirmed: &confirmed})
	require.NoError(t, err)

	lines, err := f.svc.Save(ctx, header.DocNo, 3)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.InDelta(t, 10, lines[0].SystemQty, 1e-9)

	result, err := f.svc.Post(ctx, header.DocNo, 3)
	require.NoError(t, err)
	require.True(t, result.HeaderPosted)
	require.Empty(t, result.Warnings)

	got, err := f.repo.GetHeader(ctx, header.DocNo)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, got.Status)

	// Session is gone, the event went out, the outcome was observed.
	_, err = f.svc.Proceed(ctx, header.DocNo)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Len(t, f.integration.events, 1)
	require.Equal(t, header.DocNo, f.integration.events[0].DocNo)
	require.Equal(t, []string{"posted"}, f.metrics.outcomes)
}

func TestServiceSystemQtyCapturedOnce(t *testing.T) {
	l := newMemLedger(batchRow("SKU-1", "S01", "EA", "", nil, 10))
	f := newServiceFixture(t, l)
	ctx := context.Background()

	header, err := f.svc.Create(ctx, CreateInput{SiteCode: "S01"}, 1)
	require.NoError(t, err)

	_, _, err = f.svc.BeginSession(ctx, header.DocNo, catalog.Filter{})
	require.NoError(t, err)
	_, err = f.svc.SelectItems(ctx, header.DocNo, []ItemRef{{ItemCode: "SKU-1", UOM: "EA"}})
	require.NoError(t, err)
	_, err = f.svc.Proceed(ctx, header.DocNo)
	require.NoError(t, err)

	counted, confirmed := 9.0, true
	_, err = f.svc.UpdateLine(ctx, header.DocNo, "SKU-1", "EA", UpdateLineInput{CountedQty: &counted, Confirmed: &confirmed})
	require.NoError(t, err)
	_, err = f.svc.Save(ctx, header.DocNo, 1)
	require.NoError(t, err)

	// Stock moves between counting sessions.
	l.mu.Lock()
	l.batches[0].Qty = 50
	l.mu.Unlock()

	_, _, err = f.svc.BeginSession(ctx, header.DocNo, catalog.Filter{})
	require.NoError(t, err)
	_, err = f.svc.SelectItems(ctx, header.DocNo, []ItemRef{{ItemCode: "SKU-1", UOM: "EA"}})
	require.NoError(t, err)
	sess, err := f.svc.Proceed(ctx, header.DocNo)
	require.NoError(t, err)

	// The saved system quantity wins over the fresh on-hand value.
	require.InDelta(t, 10, sess.Lines[0].SystemQty, 1e-9)
	require.InDelta(t, 9, sess.Lines[0].CountedQty, 1e-9)
}

func TestServiceMutationsRequireOpenDocument(t *testing.T) {
	f := newServiceFixture(t, newMemLedger())
	ctx := context.Background()

	header, err := f.svc.Create(ctx, CreateInput{SiteCode: "S01"}, 1)
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkPosted(ctx, header.DocNo, time.Now(), 1))

	require.ErrorIs(t, f.svc.UpdateRemark(ctx, header.DocNo, "x", 1), ErrAlreadyPosted)
	require.ErrorIs(t, f.svc.Delete(ctx, header.DocNo, 1), ErrAlreadyPosted)
	_, _, err = f.svc.BeginSession(ctx, header.DocNo, catalog.Filter{})
	require.ErrorIs(t, err, ErrAlreadyPosted)
	_, err = f.svc.Save(ctx, header.DocNo, 1)
	require.ErrorIs(t, err, ErrAlreadyPosted)
}

func TestServicePostValidationOutcome(t *testing.T) {
	f := newServiceFixture(t, newMemLedger())
	ctx := context.Background()

	header, err := f.svc.Create(ctx, CreateInput{SiteCode: "S01"}, 1)
	require.NoError(t, err)
	require.NoError(t, f.repo.ReplaceLines(ctx, header.DocNo, nil))

	_, err = f.svc.Post(ctx, header.DocNo, 1)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, []string{"validation_failed"}, f.metrics.outcomes)
	require.Empty(t, f.integration.events)
}
