package kaboom_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/kaboom"
	"github.com/syssam/kaboom/dialect"
)

var (
	planetID   = kaboom.Field[int64]("id")
	planetMass = kaboom.Field[float64]("mass")
	planetName = kaboom.StringField("name")
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		p    kaboom.Predicate
		sql  string
		args []any
	}{
		{"EQ", planetID.EQ(3), "id = ?", []any{int64(3)}},
		{"NEQ", planetID.NEQ(3), "id <> ?", []any{int64(3)}},
		{"GTE", planetMass.GTE(1.5), "mass >= ?", []any{1.5}},
		{"In", planetID.In(1, 2), "id IN (?, ?)", []any{int64(1), int64(2)}},
		{"InEmpty", planetID.In(), "1 = 0", nil},
		{"NotInEmpty", planetID.NotIn(), "1 = 1", nil},
		{"IsNull", planetMass.IsNull(), "mass IS NULL", nil},
		{"Contains", planetName.Contains("50%_off!"), "name LIKE ? ESCAPE '!'", []any{"%50!%!_off!!%"}},
		{"HasPrefix", planetName.HasPrefix("Ma"), "name LIKE ? ESCAPE '!'", []any{"Ma%"}},
		{
			"Or",
			kaboom.Or(planetName.EQ("Mars"), kaboom.And(planetMass.GT(1), planetMass.LT(2))),
			"(name = ?) OR ((mass > ?) AND (mass < ?))",
			[]any{"Mars", 1.0, 2.0},
		},
		{"OrEmpty", kaboom.Or(), "1 = 0", nil},
		{"Not", kaboom.Not(planetID.LTE(4)), "NOT (id <= ?)", []any{int64(4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sql, tt.p.SQL)
			assert.Equal(t, tt.args, tt.p.Args)
		})
	}
}

func TestQueryMatch(t *testing.T) {
	repo, mock := planets(t, dialect.PostgresRegistry())
	mock.ExpectQuery("SELECT * FROM planet WHERE mass > $1 AND name IN ($2, $3) ORDER BY name").
		WithArgs(0.1, "Mars", "Venus").
		WillReturnRows(sqlmock.NewRows(planetColumns).AddRow(int64(4), "Mars", 0.642))

	ps, err := repo.Query().
		Match(planetMass.GT(0.1), planetName.In("Mars", "Venus")).
		Order("name").
		Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Mars", ps[0].Name)
}
