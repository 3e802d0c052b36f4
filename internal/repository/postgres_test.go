package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestPostgresStore_Place(t *testing.T) {
	// TODO(TEAM-PLATFORM): Run against a disposable database in CI
	t.Skip("Integration test - requires database")
}

func TestPostgresStore_MarkPaid(t *testing.T) {
	t.Skip("Integration test - requires database")
}

func TestSQLWhere(t *testing.T) {
	userID := primitive.NewObjectID()

	tests := []struct {
		name      string
		filter    query.Filter
		columns   map[string]string
		wantWhere string
		wantArgs  []interface{}
	}{
		{
			name:      "empty filter",
			filter:    query.Filter{},
			columns:   productColumns,
			wantWhere: "",
		},
		{
			name: "product listing",
			filter: query.NewBuilder().
				Text("keyword", "name").
				Equal("category", "category").
				Range("minPrice", "maxPrice", "price").
				Build(params{"keyword": "50%_off", "category": "Home", "minPrice": "10", "maxPrice": "20"}),
			columns:   productColumns,
			wantWhere: ` WHERE name ILIKE $1 ESCAPE '\' AND category = $2 AND price >= $3 AND price <= $4`,
			wantArgs:  []interface{}{`%50\%\_off%`, "Home", 10.0, 20.0},
		},
		{
			name:      "search spans fields",
			filter:    query.NewBuilder().Text("search", "name", "email").Build(params{"search": "ann"}),
			columns:   userColumns,
			wantWhere: ` WHERE (name ILIKE $1 ESCAPE '\' OR email ILIKE $2 ESCAPE '\')`,
			wantArgs:  []interface{}{"%ann%", "%ann%"},
		},
		{
			name:      "object id rendered as hex",
			filter:    query.Filter{}.Where(query.Eq("user", userID)),
			columns:   orderColumns,
			wantWhere: ` WHERE user_id = $1`,
			wantArgs:  []interface{}{userID.Hex()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, err := sqlWhere(tt.filter, tt.columns)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWhere, where)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestSQLWhere_RejectsUnknownField(t *testing.T) {
	_, _, err := sqlWhere(query.Filter{}.Where(query.Eq("password", "x")), userColumns)
	assert.Error(t, err)
}

func TestSQLOrder(t *testing.T) {
	clause, args, err := sqlOrder(query.FindOptions{Sort: query.NewestFirst, Skip: 20, Limit: 10}, productColumns, []interface{}{"Home"})
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3", clause)
	assert.Equal(t, []interface{}{"Home", int64(10), int64(20)}, args)

	clause, args, err = sqlOrder(query.FindOptions{Sort: query.Sort{Field: "rating", Desc: true}, Limit: 5}, productColumns, nil)
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY rating DESC, id DESC LIMIT $1", clause)
	assert.Equal(t, []interface{}{int64(5)}, args)

	_, _, err = sqlOrder(query.FindOptions{Sort: query.Sort{Field: "password"}}, userColumns, nil)
	assert.Error(t, err)
}

// params is a minimal query.Params for table tests.
type params map[string]string

func (v params) Get(key string) string { return v[key] }
