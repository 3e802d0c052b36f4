package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps every collection in process behind one lock, so order
// placement is atomic across products and orders. It backs tests and the
// "memory" store driver.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[primitive.ObjectID]*models.Product
	orders   map[primitive.ObjectID]*models.Order
	users    map[primitive.ObjectID]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[primitive.ObjectID]*models.Product),
		orders:   make(map[primitive.ObjectID]*models.Order),
		users:    make(map[primitive.ObjectID]*models.User),
	}
}

func (s *MemoryStore) Products() ProductRepository { return &memoryProducts{s} }
func (s *MemoryStore) Orders() OrderRepository     { return &memoryOrders{s} }
func (s *MemoryStore) Users() UserRepository       { return &memoryUsers{s} }

func (s *MemoryStore) Ping(ctx context.Context) error  { return ctx.Err() }
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// selectDocs filters, sorts and slices docs the way the database stores do.
func selectDocs[T query.Document](docs []T, filter query.Filter, opts query.FindOptions) []T {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		if filter.Matches(d) {
			out = append(out, d)
		}
	}

	sortField := opts.Sort.Field
	if sortField == "" {
		sortField = query.NewestFirst.Field
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].FieldValue(sortField)
		b, _ := out[j].FieldValue(sortField)
		cmp := query.Compare(a, b)
		if cmp == 0 {
			ai, _ := out[i].FieldValue("_id")
			bi, _ := out[j].FieldValue("_id")
			cmp = query.Compare(ai, bi)
		}
		if opts.Sort.Desc {
			return cmp > 0
		}
		return cmp < 0
	})

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(out)) {
			return out[:0]
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func countDocs[T query.Document](docs []T, filter query.Filter) int64 {
	var n int64
	for _, d := range docs {
		if filter.Matches(d) {
			n++
		}
	}
	return n
}

func values[K comparable, V any](m map[K]*V) []*V {
	out := make([]*V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func cloneProduct(p *models.Product) *models.Product {
	c := *p
	return &c
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	if o.PaymentResult != nil {
		r := *o.PaymentResult
		c.PaymentResult = &r
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

type memoryProducts struct{ s *MemoryStore }

func (r *memoryProducts) Count(ctx context.Context, filter query.Filter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return countDocs(values(r.s.products), filter), nil
}

func (r *memoryProducts) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	found := selectDocs(values(r.s.products), filter, opts)
	out := make([]*models.Product, len(found))
	for i, p := range found {
		out[i] = cloneProduct(p)
	}
	return out, nil
}

func (r *memoryProducts) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, apperrors.NotFound("Product")
	}
	return cloneProduct(p), nil
}

func (r *memoryProducts) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[primitive.ObjectID]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (r *memoryProducts) Create(ctx context.Context, product *models.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	r.s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r *memoryProducts) Update(ctx context.Context, product *models.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.products[product.ID]; !ok {
		return apperrors.NotFound("Product")
	}
	r.s.products[product.ID] = cloneProduct(product)
	return nil
}

func (r *memoryProducts) Delete(ctx context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.products[id]; !ok {
		return apperrors.NotFound("Product")
	}
	delete(r.s.products, id)
	return nil
}

func (r *memoryProducts) Categories(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range r.s.products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out, nil
}

type memoryOrders struct{ s *MemoryStore }

func (r *memoryOrders) Count(ctx context.Context, filter query.Filter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return countDocs(values(r.s.orders), filter), nil
}

func (r *memoryOrders) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	found := selectDocs(values(r.s.orders), filter, opts)
	out := make([]*models.Order, len(found))
	for i, o := range found {
		out[i] = cloneOrder(o)
	}
	return out, nil
}

func (r *memoryOrders) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("Order")
	}
	return cloneOrder(o), nil
}

func (r *memoryOrders) Place(ctx context.Context, order *models.Order, lines []StockLine) error {
	if err := checkLines(lines); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wanted := make(map[primitive.ObjectID]int, len(lines))
	for _, line := range lines {
		p, ok := r.s.products[line.ProductID]
		if !ok || line.Quantity > p.CountInStock-wanted[line.ProductID] {
			return &StockConflictError{ProductID: line.ProductID, Requested: line.Quantity}
		}
		wanted[line.ProductID] += line.Quantity
	}
	now := order.CreatedAt
	for _, line := range lines {
		p := r.s.products[line.ProductID]
		p.CountInStock -= line.Quantity
		p.UpdatedAt = now
	}

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memoryOrders) MarkPaid(ctx context.Context, id primitive.ObjectID, result models.PaymentResult, at time.Time) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("Order")
	}
	if o.IsPaid {
		return nil, ErrAlreadyApplied
	}
	o.IsPaid = true
	o.PaidAt = &at
	o.PaymentResult = &result
	o.UpdatedAt = at
	return cloneOrder(o), nil
}

func (r *memoryOrders) MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("Order")
	}
	if o.IsDelivered {
		return nil, ErrAlreadyApplied
	}
	o.IsDelivered = true
	o.DeliveredAt = &at
	o.UpdatedAt = at
	return cloneOrder(o), nil
}

type memoryUsers struct{ s *MemoryStore }

func (r *memoryUsers) Count(ctx context.Context, filter query.Filter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return countDocs(values(r.s.users), filter), nil
}

func (r *memoryUsers) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	found := selectDocs(values(r.s.users), filter, opts)
	out := make([]*models.User, len(found))
	for i, u := range found {
		out[i] = cloneUser(u)
	}
	return out, nil
}

func (r *memoryUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.NotFound("User")
	}
	return cloneUser(u), nil
}

func (r *memoryUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	email = models.NormalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, apperrors.NotFound("User")
}

func (r *memoryUsers) emailTaken(email string, except primitive.ObjectID) bool {
	for id, u := range r.s.users {
		if id != except && u.Email == email {
			return true
		}
	}
	return false
}

func (r *memoryUsers) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.emailTaken(user.Email, primitive.NilObjectID) {
		return ErrDuplicateEmail
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func (r *memoryUsers) Update(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return apperrors.NotFound("User")
	}
	if r.emailTaken(user.Email, user.ID) {
		return ErrDuplicateEmail
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func (r *memoryUsers) Delete(ctx context.Context, id primitive.ObjectID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return apperrors.NotFound("User")
	}
	delete(r.s.users, id)
	return nil
}
