package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperrors"
	"storefront/internal/models"
)

// memTxAttempts matches the default TX_MAX_ATTEMPTS of the Mongo store.
const memTxAttempts = 5

// memStore is an optimistic in-memory Store. Transactions run concurrently
// on private snapshots. At commit every record a transaction touched must
// still carry the revision it saw, otherwise the attempt fails with
// ErrStaleWrite and fn runs again, as with the Mongo store.
type memStore struct {
	mu        sync.Mutex
	state     memState
	revs      map[memKey]int
	customers map[primitive.ObjectID]models.Customer
	commits   int
	retries   int
}

type memKey struct {
	kind string
	id   primitive.ObjectID
	name string
}

func productKey(id primitive.ObjectID) memKey { return memKey{kind: "product", id: id} }
func orderKey(id primitive.ObjectID) memKey   { return memKey{kind: "order", id: id} }
func eventKey(id string) memKey               { return memKey{kind: "event", name: id} }

type memState struct {
	products map[primitive.ObjectID]models.Product
	orders   map[primitive.ObjectID]models.Order
	events   map[string]models.PaymentEvent
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			products: map[primitive.ObjectID]models.Product{},
			orders:   map[primitive.ObjectID]models.Order{},
			events:   map[string]models.PaymentEvent{},
		},
		revs:      map[memKey]int{},
		customers: map[primitive.ObjectID]models.Customer{},
	}
}

func (s memState) clone() memState {
	c := memState{
		products: make(map[primitive.ObjectID]models.Product, len(s.products)),
		orders:   make(map[primitive.ObjectID]models.Order, len(s.orders)),
		events:   make(map[string]models.PaymentEvent, len(s.events)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func cloneOrder(o models.Order) models.Order {
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return o
}

func (s *memStore) addProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	s.state.products[p.ID] = p
	s.revs[productKey(p.ID)]++
	return p
}

func (s *memStore) addCustomer(c models.Customer) models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	s.customers[c.ID] = c
	return c
}

func (s *memStore) putOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orders[o.ID] = cloneOrder(o)
	s.revs[orderKey(o.ID)]++
}

func (s *memStore) product(id primitive.ObjectID) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) order(id primitive.ObjectID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.state.orders[id])
}

func (s *memStore) event(id string) (models.PaymentEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.events[id]
	return e, ok
}

func (s *memStore) retryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt < memTxAttempts; attempt++ {
		tx := s.begin()
		if err = fn(ctx, tx); err == nil {
			err = s.commit(tx)
		}
		if !errors.Is(err, ErrStaleWrite) {
			return err
		}
		s.mu.Lock()
		s.retries++
		s.mu.Unlock()
	}
	return apperrors.Conflict(err)
}

func (s *memStore) begin() *memTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	revs := make(map[memKey]int, len(s.revs))
	for k, v := range s.revs {
		revs[k] = v
	}
	return &memTx{
		state:   s.state.clone(),
		revs:    revs,
		read:    map[memKey]bool{},
		written: map[memKey]bool{},
	}
}

// commit applies the records tx wrote if nothing it touched has moved since
// its snapshot.
func (s *memStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range tx.read {
		if s.revs[key] != tx.revs[key] {
			return fmt.Errorf("%s changed since snapshot: %w", key.kind, ErrStaleWrite)
		}
	}
	for key := range tx.written {
		switch key.kind {
		case "product":
			s.state.products[key.id] = tx.state.products[key.id]
		case "order":
			s.state.orders[key.id] = cloneOrder(tx.state.orders[key.id])
		case "event":
			s.state.events[key.name] = tx.state.events[key.name]
		}
		s.revs[key]++
	}
	s.commits++
	return nil
}

func (s *memStore) FindOrder(_ context.Context, id primitive.ObjectID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *memStore) ListOrdersByUser(_ context.Context, userID primitive.ObjectID) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *memStore) ListOrdersByAgent(_ context.Context, agentID primitive.ObjectID) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.AssignedTo(agentID) }), nil
}

func (s *memStore) ListStalePending(_ context.Context, method string, before time.Time, limit int) ([]models.Order, error) {
	out := s.filter(func(o models.Order) bool {
		return o.PaymentMethod == method && o.Status == models.StatusPending && !o.IsPaid &&
			o.PaymentIntentID == "" && o.CreatedAt.Before(before)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Customer(_ context.Context, id primitive.ObjectID) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return models.Customer{}, fmt.Errorf("customer %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return c, nil
}

func (s *memStore) filter(keep func(models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.state.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type memTx struct {
	state   memState
	revs    map[memKey]int
	read    map[memKey]bool
	written map[memKey]bool
}

func (t *memTx) touch(key memKey, write bool) {
	t.read[key] = true
	if write {
		t.written[key] = true
	}
}

func (t *memTx) Product(_ context.Context, id primitive.ObjectID) (models.Product, error) {
	t.touch(productKey(id), false)
	p, ok := t.state.products[id]
	if !ok {
		return models.Product{}, fmt.Errorf("product %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) ReserveStock(_ context.Context, id primitive.ObjectID, qty int) (bool, error) {
	t.touch(productKey(id), false)
	p, ok := t.state.products[id]
	if !ok || p.StockQuantity < qty {
		return false, nil
	}
	t.touch(productKey(id), true)
	p.StockQuantity -= qty
	t.state.products[id] = p
	return true, nil
}

func (t *memTx) ReleaseStock(_ context.Context, id primitive.ObjectID, qty int) error {
	p, ok := t.state.products[id]
	if !ok {
		return nil
	}
	t.touch(productKey(id), true)
	p.StockQuantity += qty
	t.state.products[id] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	t.touch(orderKey(order.ID), true)
	if _, exists := t.state.orders[order.ID]; exists {
		return fmt.Errorf("duplicate order %s", order.ID.Hex())
	}
	t.state.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (t *memTx) Order(_ context.Context, id primitive.ObjectID) (models.Order, error) {
	t.touch(orderKey(id), false)
	o, ok := t.state.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateOrder(_ context.Context, order *models.Order) error {
	t.touch(orderKey(order.ID), true)
	current, ok := t.state.orders[order.ID]
	if !ok || current.Version != order.Version {
		return ErrStaleWrite
	}
	order.Version++
	t.state.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (t *memTx) PaymentEvent(_ context.Context, eventID string) (*models.PaymentEvent, error) {
	t.touch(eventKey(eventID), false)
	e, ok := t.state.events[eventID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// RecordPaymentEvent fails like the unique eventId index: the retried attempt
// sees the event and reports a duplicate.
func (t *memTx) RecordPaymentEvent(_ context.Context, event models.PaymentEvent) error {
	t.touch(eventKey(event.EventID), true)
	if _, exists := t.state.events[event.EventID]; exists {
		return fmt.Errorf("payment event %s: %w", event.EventID, ErrStaleWrite)
	}
	t.state.events[event.EventID] = event
	return nil
}

type sentNotice struct {
	recipient string
	orderID   primitive.ObjectID
	from, to  models.OrderStatus
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, recipient string, order models.Order, from models.OrderStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{recipient: recipient, orderID: order.ID, from: from, to: order.Status})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ models.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

type fakeVerifier struct {
	events map[string]ProviderEvent
}

func (v fakeVerifier) Verify(payload []byte, signature string) (ProviderEvent, error) {
	if signature != "valid" {
		return ProviderEvent{}, fmt.Errorf("signature mismatch")
	}
	evt, ok := v.events[string(payload)]
	if !ok {
		return ProviderEvent{}, fmt.Errorf("unknown payload")
	}
	return evt, nil
}

type fakeGateway struct {
	requests []IntentRequest
}

func (g *fakeGateway) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	g.requests = append(g.requests, req)
	return Intent{ID: "pi_" + req.OrderID, ClientSecret: "secret", AmountMinor: req.AmountMinor, Currency: req.Currency}, nil
}
