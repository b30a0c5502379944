//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/lapcounter-go/pkg/db/migrate"
	database "github.com/mpapenbr/lapcounter-go/pkg/db/postgres"
)

// RaceTables are the tables written by the race log, children first
var RaceTables = []string{"race_standing", "race_latest", "race_snapshot", "race_event"}

// SetupTestDB returns a pool for the migrated race database of a (reused) container
func SetupTestDB() *pgxpool.Pool {
	ctx := context.Background()
	container, err := SetupPostgres(ctx, WithName("lapcounter-test"))
	if err != nil {
		log.Fatal(err)
	}
	dbURL, err := container.DBURL(ctx)
	if err != nil {
		log.Fatal(err)
	}
	return setupWithURL(dbURL)
}

// use the database referenced by TESTDB_URL
func SetupExternalTestDB() *pgxpool.Pool {
	return setupWithURL(os.Getenv("TESTDB_URL"))
}

func setupWithURL(dbURL string) *pgxpool.Pool {
	if err := migrate.MigrateDB(dbURL); err != nil {
		log.Fatal(err)
	}
	pool, err := database.InitWithURL(dbURL)
	if err != nil {
		log.Fatal(err)
	}
	return pool
}

// ClearAllTables removes all race data
func ClearAllTables(pool *pgxpool.Pool) {
	pool.Exec(context.Background(),
		fmt.Sprintf("truncate %s", strings.Join(RaceTables, ", ")))
}
