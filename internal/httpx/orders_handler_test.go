package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

type fakeRepo struct {
	orders  map[uuid.UUID]orders.Order
	created []orders.Order
	err     error
}

func (r *fakeRepo) CreateOrder(_ context.Context, customer, product string, amount decimal.Decimal) (orders.Order, error) {
	if r.err != nil {
		return orders.Order{}, r.err
	}
	o := orders.Order{
		ID:        uuid.New(),
		Customer:  customer,
		Product:   product,
		Amount:    amount,
		Status:    orders.StatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	r.created = append(r.created, o)
	return o, nil
}

func (r *fakeRepo) GetOrder(_ context.Context, id uuid.UUID) (orders.Order, error) {
	if r.err != nil {
		return orders.Order{}, r.err
	}
	o, ok := r.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeRepo) GetOrderStatus(ctx context.Context, id uuid.UUID) (orders.Status, error) {
	o, err := r.GetOrder(ctx, id)
	return o.Status, err
}

func (r *fakeRepo) ListOrders(context.Context) ([]orders.Order, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []orders.Order
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeRepo) Metrics(context.Context) (orders.Metrics, error) {
	return orders.Metrics{OrdersToday: 2, PendingOrders: 1, FinalizedAmountMonth: decimal.RequireFromString("10.50"), ReferenceMonth: "2026-10"}, r.err
}

type fakePublisher struct {
	topics []string
	ids    []uuid.UUID
	err    error
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, topic string, id uuid.UUID) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topics = append(p.topics, topic)
	p.ids = append(p.ids, id)
	return uuid.NewString(), nil
}

type fakeStatusCache struct {
	bodies map[uuid.UUID][]byte
	set    map[uuid.UUID]orders.Status
}

func (c *fakeStatusCache) Status(_ context.Context, id uuid.UUID) ([]byte, bool, error) {
	b, ok := c.bodies[id]
	return b, ok, nil
}

// FillStatus keeps an existing entry, like SETNX.
func (c *fakeStatusCache) FillStatus(_ context.Context, id uuid.UUID, s orders.Status) error {
	if c.set == nil {
		c.set = map[uuid.UUID]orders.Status{}
	}
	if _, ok := c.set[id]; !ok {
		c.set[id] = s
	}
	return nil
}

func newTestServer(repo *fakeRepo, pub *fakePublisher, cache *fakeStatusCache) http.Handler {
	r := NewRouter(nil)
	h := &OrdersHandler{Repo: repo, Producer: pub, Topic: "order.created"}
	if cache != nil {
		h.Cache = cache
	}
	h.Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderPublishes(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	cache := &fakeStatusCache{}
	srv := newTestServer(repo, pub, cache)

	rec := do(t, srv, http.MethodPost, "/api/orders", `{"customer":"Ana","product":"Keyboard","amount":149.9}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.True(t, decimal.RequireFromString("149.9").Equal(got.Amount))

	require.Len(t, repo.created, 1)
	assert.Equal(t, []uuid.UUID{got.ID}, pub.ids)
	assert.Equal(t, []string{"order.created"}, pub.topics)
	assert.Equal(t, orders.StatusProcessing, cache.set[got.ID])
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{`,
		"missing customer": `{"product":"Keyboard","amount":1}`,
		"blank product":    `{"customer":"Ana","product":"  ","amount":1}`,
		"zero amount":      `{"customer":"Ana","product":"Keyboard","amount":0}`,
		"negative amount":  `{"customer":"Ana","product":"Keyboard","amount":"-3"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &fakeRepo{}
			pub := &fakePublisher{}
			rec := do(t, newTestServer(repo, pub, nil), http.MethodPost, "/api/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, repo.created)
			assert.Empty(t, pub.ids)
		})
	}
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	repo := &fakeRepo{}
	rec := do(t, newTestServer(repo, &fakePublisher{err: errors.New("broker down")}, nil),
		http.MethodPost, "/api/orders", `{"customer":"Ana","product":"Keyboard","amount":"5"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, repo.created, 1)
}

func TestGetOrder(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{orders: map[uuid.UUID]orders.Order{id: {ID: id, Status: orders.StatusFinalized}}}
	srv := newTestServer(repo, &fakePublisher{}, nil)

	rec := do(t, srv, http.MethodGet, "/api/orders/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"FINALIZED"`)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/orders/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/orders/not-a-uuid", "").Code)
}

func TestGetOrderStatusUsesCache(t *testing.T) {
	cached := uuid.New()
	stored := uuid.New()
	repo := &fakeRepo{orders: map[uuid.UUID]orders.Order{stored: {ID: stored, Status: orders.StatusProcessing}}}
	cache := &fakeStatusCache{bodies: map[uuid.UUID][]byte{cached: []byte(`{"status":"FINALIZED"}`)}}
	srv := newTestServer(repo, &fakePublisher{}, cache)

	rec := do(t, srv, http.MethodGet, "/api/orders/"+cached.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"FINALIZED"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/orders/"+stored.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"PROCESSING"}`, rec.Body.String())
	assert.Equal(t, orders.StatusProcessing, cache.set[stored])
}

func TestGetOrderStatusKeepsNewerCachedStatus(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{orders: map[uuid.UUID]orders.Order{id: {ID: id, Status: orders.StatusProcessing}}}
	// the worker cached Finalized after this request missed the cache
	cache := &fakeStatusCache{set: map[uuid.UUID]orders.Status{id: orders.StatusFinalized}}
	srv := newTestServer(repo, &fakePublisher{}, cache)

	rec := do(t, srv, http.MethodGet, "/api/orders/"+id.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusFinalized, cache.set[id])
}

func TestListOrdersEmpty(t *testing.T) {
	rec := do(t, newTestServer(&fakeRepo{}, &fakePublisher{}, nil), http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	rec := do(t, newTestServer(&fakeRepo{}, &fakePublisher{}, nil), http.MethodGet, "/api/orders/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "2026-10", m["reference_month"])
	assert.Equal(t, "10.5", m["finalized_amount_month"])
}

func TestRepoFailureIs500(t *testing.T) {
	srv := newTestServer(&fakeRepo{err: errors.New("db down")}, &fakePublisher{}, nil)
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/orders", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/orders/metrics", "").Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(&fakeRepo{}, &fakePublisher{}, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
