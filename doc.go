// Package kaboom maps plain Go structs to SQL tables.
//
// A record type is a struct whose exported fields carry db tags. The
// schema package derives its table, columns and identity once; a
// Repository combines that metadata with a driver to query and write
// records:
//
//	type Planet struct {
//	    ID   int64  `db:"id,generated"`
//	    Name string `db:"name"`
//	    Mass float64
//	}
//
//	drv, err := sql.Open("postgres", dsn)
//	if err != nil {
//	    return err
//	}
//	planets, err := kaboom.NewRepository[Planet, int64](drv)
//	if err != nil {
//	    return err
//	}
//	earth, err := planets.InsertAndGet(ctx, Planet{Name: "Earth", Mass: 5.97e24})
//
// Queries are immutable values. Every builder method returns a new
// builder, so a partial query can be shared and extended:
//
//	heavy := planets.Query().Where("mass > ?").Argument(1e24)
//	first, err := heavy.Order("name").Limit(10).Execute(ctx)
//	n, err := heavy.Count(ctx)
//
// Repository calls made with the context passed to a transaction body join
// the transaction, across every repository sharing the driver:
//
//	err := planets.Transaction(ctx, func(ctx context.Context, r *kaboom.Repository[Planet, int64]) error {
//	    if err := r.Insert(ctx, Planet{Name: "Mars"}); err != nil {
//	        return err
//	    }
//	    return moons.Insert(ctx, Moon{Name: "Phobos"})
//	})
package kaboom
