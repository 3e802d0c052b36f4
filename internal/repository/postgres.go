package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

//go:embed migrations/001_init.sql
var schemaSQL string

const uniqueViolation = "23505"

var (
	productColumns = map[string]string{
		"_id":          "id",
		"name":         "name",
		"description":  "description",
		"price":        "price",
		"category":     "category",
		"brand":        "brand",
		"countInStock": "count_in_stock",
		"rating":       "rating",
		"numReviews":   "num_reviews",
		"createdAt":    "created_at",
		"updatedAt":    "updated_at",
	}
	orderColumns = map[string]string{
		"_id":           "id",
		"user":          "user_id",
		"paymentMethod": "payment_method",
		"totalPrice":    "total_price",
		"isPaid":        "is_paid",
		"isDelivered":   "is_delivered",
		"createdAt":     "created_at",
		"updatedAt":     "updated_at",
	}
	userColumns = map[string]string{
		"_id":       "id",
		"name":      "name",
		"email":     "email",
		"role":      "role",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	}
)

const (
	productSelect = `SELECT id, name, description, price, category, brand, count_in_stock,
		       image_url, rating, num_reviews, created_at, updated_at FROM products`
	orderFields = `id, user_id, order_items, shipping_address, payment_method, payment_result,
		       tax_price, shipping_price, total_price, is_paid, paid_at, is_delivered,
		       delivered_at, created_at, updated_at`
	orderSelect = `SELECT ` + orderFields + ` FROM orders`
	userSelect  = `SELECT id, name, email, password, role, created_at, updated_at FROM users`
)

// PostgresStore implements Store on PostgreSQL. Ids are ObjectID hex strings
// so documents move between drivers unchanged.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB, logger *logging.LoggerV2) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the tables and indexes when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

func (s *PostgresStore) Products() ProductRepository { return &postgresProducts{s} }
func (s *PostgresStore) Orders() OrderRepository     { return &postgresOrders{s} }
func (s *PostgresStore) Users() UserRepository       { return &postgresUsers{s} }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.logger.Info("Closing database pool")
	return s.db.Close()
}

// sqlWhere renders filter as a WHERE clause with numbered placeholders
// starting at $1. Unknown fields are rejected instead of interpolated.
func sqlWhere(filter query.Filter, columns map[string]string) (string, []interface{}, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}
	args := make([]interface{}, 0)
	clauses := make([]string, 0, len(filter.Clauses))

	for _, clause := range filter.Clauses {
		parts := make([]string, 0, len(clause.Any))
		for _, cond := range clause.Any {
			col, ok := columns[cond.Field]
			if !ok {
				return "", nil, fmt.Errorf("unknown filter field %q", cond.Field)
			}
			args = append(args, sqlValue(cond))
			placeholder := fmt.Sprintf("$%d", len(args))
			switch cond.Op {
			case query.OpContains:
				parts = append(parts, col+" ILIKE "+placeholder+` ESCAPE '\'`)
			case query.OpGte:
				parts = append(parts, col+" >= "+placeholder)
			case query.OpLte:
				parts = append(parts, col+" <= "+placeholder)
			default:
				parts = append(parts, col+" = "+placeholder)
			}
		}
		if len(parts) == 1 {
			clauses = append(clauses, parts[0])
		} else {
			clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlValue(cond query.Condition) interface{} {
	if id, ok := cond.Value.(primitive.ObjectID); ok {
		return id.Hex()
	}
	if cond.Op == query.OpContains {
		return "%" + escapeLike(fmt.Sprint(cond.Value)) + "%"
	}
	return cond.Value
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func sqlOrder(opts query.FindOptions, columns map[string]string, args []interface{}) (string, []interface{}, error) {
	field := opts.Sort.Field
	if field == "" {
		field = query.NewestFirst.Field
	}
	col, ok := columns[field]
	if !ok {
		return "", nil, fmt.Errorf("unknown sort field %q", field)
	}
	dir := "ASC"
	if opts.Sort.Desc {
		dir = "DESC"
	}
	clause := fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		clause += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return clause, args, nil
}

func (s *PostgresStore) count(ctx context.Context, table string, filter query.Filter, columns map[string]string) (int64, error) {
	where, args, err := sqlWhere(filter, columns)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *PostgresStore) selectQuery(base string, filter query.Filter, opts query.FindOptions, columns map[string]string) (string, []interface{}, error) {
	where, args, err := sqlWhere(filter, columns)
	if err != nil {
		return "", nil, err
	}
	order, args, err := sqlOrder(opts, columns, args)
	if err != nil {
		return "", nil, err
	}
	return base + where + order, args, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func parseHexID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("stored id %q: %w", s, err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type postgresProducts struct{ s *PostgresStore }

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var id string
	err := row.Scan(
		&id,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Category,
		&p.Brand,
		&p.CountInStock,
		&p.ImageURL,
		&p.Rating,
		&p.NumReviews,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.ID, err = parseHexID(id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresProducts) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.count(ctx, "products", filter, productColumns)
}

func (r *postgresProducts) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Product, error) {
	q, args, err := r.s.selectQuery(productSelect, filter, opts, productColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]*models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *postgresProducts) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	p, err := scanProduct(r.s.db.QueryRowContext(ctx, productSelect+" WHERE id = $1", id.Hex()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("Product")
	}
	if err != nil {
		r.s.logger.Error("Failed to fetch product", logging.Fields{
			"product_id": id.Hex(),
			"error":      err.Error(),
		})
		return nil, err
	}
	return p, nil
}

func (r *postgresProducts) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.Product, error) {
	out := make(map[primitive.ObjectID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	hexes := make([]string, len(ids))
	for i, id := range ids {
		hexes[i] = id.Hex()
	}
	rows, err := r.s.db.QueryContext(ctx, productSelect+" WHERE id = ANY($1)", pq.Array(hexes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *postgresProducts) Create(ctx context.Context, p *models.Product) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, description, price, category, brand, count_in_stock,
			image_url, rating, num_reviews, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.ID.Hex(), p.Name, p.Description, p.Price, p.Category, p.Brand, p.CountInStock,
		p.ImageURL, p.Rating, p.NumReviews, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create product", logging.Fields{"error": err.Error()})
	}
	return err
}

func (r *postgresProducts) Update(ctx context.Context, p *models.Product) error {
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, category = $5, brand = $6,
		    count_in_stock = $7, image_url = $8, rating = $9, num_reviews = $10,
		    updated_at = $11
		WHERE id = $1
	`,
		p.ID.Hex(), p.Name, p.Description, p.Price, p.Category, p.Brand,
		p.CountInStock, p.ImageURL, p.Rating, p.NumReviews, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("Product")
	}
	return nil
}

func (r *postgresProducts) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id.Hex())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("Product")
	}
	return nil
}

func (r *postgresProducts) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type postgresOrders struct{ s *PostgresStore }

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var id, userID, method string
	var itemsJSON, shippingJSON, resultJSON []byte
	var paidAt, deliveredAt sql.NullTime

	err := row.Scan(
		&id,
		&userID,
		&itemsJSON,
		&shippingJSON,
		&method,
		&resultJSON,
		&order.TaxPrice,
		&order.ShippingPrice,
		&order.TotalPrice,
		&order.IsPaid,
		&paidAt,
		&order.IsDelivered,
		&deliveredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.ID, err = parseHexID(id); err != nil {
		return nil, err
	}
	if order.User, err = parseHexID(userID); err != nil {
		return nil, err
	}
	order.PaymentMethod = models.PaymentMethod(method)

	if err := json.Unmarshal(itemsJSON, &order.OrderItems); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shippingJSON, &order.ShippingAddress); err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		var result models.PaymentResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, err
		}
		order.PaymentResult = &result
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = &deliveredAt.Time
	}

	return &order, nil
}

func (r *postgresOrders) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.count(ctx, "orders", filter, orderColumns)
}

func (r *postgresOrders) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Order, error) {
	q, args, err := r.s.selectQuery(orderSelect, filter, opts, orderColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *postgresOrders) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	r.s.logger.Debug("Fetching order by ID", logging.Fields{"order_id": id.Hex()})

	order, err := scanOrder(r.s.db.QueryRowContext(ctx, orderSelect+" WHERE id = $1", id.Hex()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("Order")
	}
	if err != nil {
		r.s.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id.Hex(),
			"error":    err.Error(),
		})
		return nil, err
	}
	return order, nil
}

// Place runs the stock decrements and the insert in one transaction.
func (r *postgresOrders) Place(ctx context.Context, order *models.Order, lines []StockLine) error {
	if err := checkLines(lines); err != nil {
		return err
	}
	itemsJSON, err := json.Marshal(order.OrderItems)
	if err != nil {
		return err
	}
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, line := range lines {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET count_in_stock = count_in_stock - $2, updated_at = $3
			WHERE id = $1 AND count_in_stock >= $2
		`, line.ProductID.Hex(), line.Quantity, order.CreatedAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &StockConflictError{ProductID: line.ProductID, Requested: line.Quantity}
		}
	}

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, order_items, shipping_address, payment_method,
			tax_price, shipping_price, total_price, is_paid, is_delivered,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, $9, $10)
	`,
		order.ID.Hex(),
		order.User.Hex(),
		string(itemsJSON),
		string(shippingJSON),
		string(order.PaymentMethod),
		order.TaxPrice,
		order.ShippingPrice,
		order.TotalPrice,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create order", logging.Fields{
			"user_id": order.User.Hex(),
			"error":   err.Error(),
		})
		return err
	}

	return tx.Commit()
}

// transition applies set to the order only while guard is still false.
func (r *postgresOrders) transition(ctx context.Context, id primitive.ObjectID, guard, set string, args ...interface{}) (*models.Order, error) {
	q := `UPDATE orders SET ` + set + ` WHERE id = $1 AND ` + guard + ` = FALSE RETURNING ` + orderFields
	order, err := scanOrder(r.s.db.QueryRowContext(ctx, q, append([]interface{}{id.Hex()}, args...)...))
	if err == sql.ErrNoRows {
		var exists bool
		if err := r.s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id.Hex()).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperrors.NotFound("Order")
		}
		return nil, ErrAlreadyApplied
	}
	return order, err
}

func (r *postgresOrders) MarkPaid(ctx context.Context, id primitive.ObjectID, result models.PaymentResult, at time.Time) (*models.Order, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, id, "is_paid",
		`is_paid = TRUE, paid_at = $2, payment_result = $3, updated_at = $2`,
		at, string(resultJSON))
}

func (r *postgresOrders) MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Order, error) {
	return r.transition(ctx, id, "is_delivered",
		`is_delivered = TRUE, delivered_at = $2, updated_at = $2`,
		at)
}

type postgresUsers struct{ s *PostgresStore }

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var id, role string
	if err := row.Scan(&id, &u.Name, &u.Email, &u.Password, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.ID, err = parseHexID(id); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *postgresUsers) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return r.s.count(ctx, "users", filter, userColumns)
}

func (r *postgresUsers) Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.User, error) {
	q, args, err := r.s.selectQuery(userSelect, filter, opts, userColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *postgresUsers) get(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	u, err := scanUser(r.s.db.QueryRowContext(ctx, userSelect+" WHERE "+where, arg))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("User")
	}
	return u, err
}

func (r *postgresUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.get(ctx, "id = $1", id.Hex())
}

func (r *postgresUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, "email = $1", models.NormalizeEmail(email))
}

func (r *postgresUsers) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID.Hex(), u.Name, u.Email, u.Password, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *postgresUsers) Update(ctx context.Context, u *models.User) error {
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, email = $3, password = $4, role = $5, updated_at = $6
		WHERE id = $1
	`, u.ID.Hex(), u.Name, u.Email, u.Password, string(u.Role), u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("User")
	}
	return nil
}

func (r *postgresUsers) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.Hex())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("User")
	}
	return nil
}
