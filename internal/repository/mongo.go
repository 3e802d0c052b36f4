package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	productsCollection = "products"
	ordersCollection   = "orders"
	usersCollection    = "users"
)

// MongoStore implements Store on MongoDB, the default driver.
type MongoStore struct {
	client   *mongo.Client
	products *mongo.Collection
	orders   *mongo.Collection
	users    *mongo.Collection
	logger   *logging.LoggerV2
}

// NewMongoStore connects, pings and makes sure the indexes exist.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, logger *logging.LoggerV2) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:   client,
		products: db.Collection(productsCollection),
		orders:   db.Collection(ordersCollection),
		users:    db.Collection(usersCollection),
		logger:   logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("MongoDB connected", logging.Fields{"database": cfg.Database})
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.products: {
			{Keys: bson.D{{Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "price", Value: 1}}},
			{Keys: bson.D{{Key: "rating", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		s.orders: {
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "isPaid", Value: 1}}},
			{Keys: bson.D{{Key: "isDelivered", Value: 1}}},
		},
		s.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
	}
	for coll, specs := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Products() ProductRepository { return &mongoProducts{s} }
func (s *MongoStore) Orders() OrderRepository     { return &mongoOrders{s} }
func (s *MongoStore) Users() UserRepository       { return &mongoUsers{s} }

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.logger.Info("Disconnecting from MongoDB")
	return s.client.Disconnect(ctx)
}

// mongoFilter renders a filter as a query document. Substring conditions
// become case-insensitive regular expressions with metacharacters quoted.
func mongoFilter(f query.Filter) bson.M {
	if f.IsEmpty() {
		return bson.M{}
	}
	and := make(bson.A, 0, len(f.Clauses))
	for _, clause := range f.Clauses {
		if len(clause.Any) == 1 {
			and = append(and, mongoCondition(clause.Any[0]))
			continue
		}
		or := make(bson.A, 0, len(clause.Any))
		for _, cond := range clause.Any {
			or = append(or, mongoCondition(cond))
		}
		and = append(and, bson.M{"$or": or})
	}
	if len(and) == 1 {
		return and[0].(bson.M)
	}
	return bson.M{"$and": and}
}

func mongoCondition(c query.Condition) bson.M {
	switch c.Op {
	case query.OpContains:
		return bson.M{c.Field: primitive.Regex{Pattern: regexp.QuoteMeta(fmt.Sprint(c.Value)), Options: "i"}}
	case query.OpGte:
		return bson.M{c.Field: bson.M{"$gte": c.Value}}
	case query.OpLte:
		return bson.M{c.Field: bson.M{"$lte": c.Value}}
	}
	return bson.M{c.Field: c.Value}
}

func mongoFindOptions(opts query.FindOptions) *options.FindOptions {
	field := opts.Sort.Field
	if field == "" {
		field = query.NewestFirst.Field
	}
	dir := 1
	if opts.Sort.Desc {
		dir = -1
	}
	fo := options.Find().SetSort(bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}})
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	return fo
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter query.Filter, opts query.FindOptions) ([]*T, error) {
	cursor, err := coll.Find(ctx, mongoFilter(filter), mongoFindOptions(opts))
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findByID[T any](ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, resource string) (*T, error) {
	var doc T
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound(resource)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

type mongoProducts struct{ s *MongoStore }

func (r *mongoProducts) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.products.CountDocuments(ctx, mongoFilter(filter))
}

func (r *mongoProducts) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Product, error) {
	return findAll[models.Product](ctx, r.s.products, filter, opts)
}

func (r *mongoProducts) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	return findByID[models.Product](ctx, r.s.products, id, "Product")
}

func (r *mongoProducts) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.Product, error) {
	out := make(map[primitive.ObjectID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.s.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var products []*models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (r *mongoProducts) Create(ctx context.Context, product *models.Product) error {
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	_, err := r.s.products.InsertOne(ctx, product)
	if err != nil {
		r.s.logger.Error("Failed to insert product", logging.Fields{"error": err.Error()})
	}
	return err
}

func (r *mongoProducts) Update(ctx context.Context, product *models.Product) error {
	update := bson.M{"$set": bson.M{
		"name":         product.Name,
		"description":  product.Description,
		"price":        product.Price,
		"category":     product.Category,
		"brand":        product.Brand,
		"countInStock": product.CountInStock,
		"imageUrl":     product.ImageURL,
		"rating":       product.Rating,
		"numReviews":   product.NumReviews,
		"updatedAt":    product.UpdatedAt,
	}}
	res, err := r.s.products.UpdateOne(ctx, bson.M{"_id": product.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("Product")
	}
	return nil
}

func (r *mongoProducts) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("Product")
	}
	return nil
}

func (r *mongoProducts) Categories(ctx context.Context) ([]string, error) {
	raw, err := r.s.products.Distinct(ctx, "category", bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

type mongoOrders struct{ s *MongoStore }

func (r *mongoOrders) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.orders.CountDocuments(ctx, mongoFilter(filter))
}

func (r *mongoOrders) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Order, error) {
	return findAll[models.Order](ctx, r.s.orders, filter, opts)
}

func (r *mongoOrders) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	return findByID[models.Order](ctx, r.s.orders, id, "Order")
}

// Place reserves stock with one conditional decrement per line. Without a
// replica set there are no multi-document transactions, so a failed line or
// insert gives back every reservation already taken.
func (r *mongoOrders) Place(ctx context.Context, order *models.Order, lines []StockLine) error {
	if err := checkLines(lines); err != nil {
		return err
	}
	reserved := make([]StockLine, 0, len(lines))

	for _, line := range lines {
		res, err := r.s.products.UpdateOne(ctx,
			bson.M{"_id": line.ProductID, "countInStock": bson.M{"$gte": line.Quantity}},
			bson.M{
				"$inc": bson.M{"countInStock": -line.Quantity},
				"$set": bson.M{"updatedAt": order.CreatedAt},
			},
		)
		if err != nil {
			r.release(ctx, reserved)
			return err
		}
		if res.MatchedCount == 0 {
			r.release(ctx, reserved)
			return &StockConflictError{ProductID: line.ProductID, Requested: line.Quantity}
		}
		reserved = append(reserved, line)
	}

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if _, err := r.s.orders.InsertOne(ctx, order); err != nil {
		r.s.logger.Error("Failed to insert order", logging.Fields{
			"user_id": order.User.Hex(),
			"error":   err.Error(),
		})
		r.release(ctx, reserved)
		return err
	}
	return nil
}

func (r *mongoOrders) release(ctx context.Context, lines []StockLine) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range lines {
		_, err := r.s.products.UpdateOne(ctx,
			bson.M{"_id": line.ProductID},
			bson.M{"$inc": bson.M{"countInStock": line.Quantity}},
		)
		if err != nil {
			r.s.logger.Error("Failed to release reserved stock", logging.Fields{
				"product_id": line.ProductID.Hex(),
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
		}
	}
}

func (r *mongoOrders) transition(ctx context.Context, id primitive.ObjectID, guard string, set bson.M) (*models.Order, error) {
	var order models.Order
	err := r.s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id, guard: false},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := r.s.orders.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return nil, cerr
		}
		if n == 0 {
			return nil, apperrors.NotFound("Order")
		}
		return nil, ErrAlreadyApplied
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *mongoOrders) MarkPaid(ctx context.Context, id primitive.ObjectID, result models.PaymentResult, at time.Time) (*models.Order, error) {
	return r.transition(ctx, id, "isPaid", bson.M{
		"isPaid":        true,
		"paidAt":        at,
		"paymentResult": result,
		"updatedAt":     at,
	})
}

func (r *mongoOrders) MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Order, error) {
	return r.transition(ctx, id, "isDelivered", bson.M{
		"isDelivered": true,
		"deliveredAt": at,
		"updatedAt":   at,
	})
}

type mongoUsers struct{ s *MongoStore }

func (r *mongoUsers) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.users.CountDocuments(ctx, mongoFilter(filter))
}

func (r *mongoUsers) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.User, error) {
	return findAll[models.User](ctx, r.s.users, filter, opts)
}

func (r *mongoUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return findByID[models.User](ctx, r.s.users, id, "User")
}

func (r *mongoUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.s.users.FindOne(ctx, bson.M{"email": models.NormalizeEmail(email)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("User")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *mongoUsers) Create(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	_, err := r.s.users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *mongoUsers) Update(ctx context.Context, user *models.User) error {
	res, err := r.s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"name":      user.Name,
		"email":     user.Email,
		"password":  user.Password,
		"role":      user.Role,
		"updatedAt": user.UpdatedAt,
	}})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("User")
	}
	return nil
}

func (r *mongoUsers) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("User")
	}
	return nil
}
