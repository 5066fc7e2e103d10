//go:build integration

package schema

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"runtime"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	PostgresDriverName = "postgres"
	SQLiteDriverName   = "sqlite3"
	MySQLDriverName    = "mysql"
	MSSQLDriverName    = "sqlserver"
)

// TestDBs holds all of the database instances the integration tests run
// against. connectDB references its keys and withEachTestDB runs a test
// against every entry.
var TestDBs = map[string]*TestDB{
	"postgres:16": {
		Dialect:    Postgres,
		Driver:     PostgresDriverName,
		DockerRepo: "postgres",
		DockerTag:  "16",
	},
	"mysql:8": {
		Dialect:    MySQL,
		Driver:     MySQLDriverName,
		DockerRepo: "mysql",
		DockerTag:  "8",
	},
	"mariadb:11": {
		Dialect:    MySQL,
		Driver:     MySQLDriverName,
		DockerRepo: "mariadb",
		DockerTag:  "11",
	},
	"mssql:2022": {
		Dialect:    MSSQL,
		Driver:     MSSQLDriverName,
		DockerRepo: "mcr.microsoft.com/mssql/server",
		DockerTag:  "2022-latest",
		OnlyIn:     []string{"amd64"},
	},
	"sqlite": {
		Dialect: NewSQLite(),
		Driver:  SQLiteDriverName,
	},
}

// TestDB represents a specific database instance against which we would like
// to run migration tests.
type TestDB struct {
	Dialect    Dialect
	Driver     string
	DockerRepo string
	DockerTag  string
	Resource   *dockertest.Resource

	// OnlyIn lists the architectures the image is published for. Empty
	// means every architecture.
	OnlyIn []string

	path string
}

func (c *TestDB) Username() string {
	switch c.Driver {
	case MSSQLDriverName:
		return "SA"
	default:
		return "schemauser"
	}
}

func (c *TestDB) Password() string {
	switch c.Driver {
	case MSSQLDriverName:
		return "Th1sI5AMor3_Compl1c4tedPasswd!"
	default:
		return "schemasecret"
	}
}

func (c *TestDB) DatabaseName() string {
	switch c.Driver {
	case MSSQLDriverName:
		return "master"
	default:
		return "schematests"
	}
}

// Port asks Docker for the host-side port mapped to the container's
// database port.
func (c *TestDB) Port() string {
	switch c.Driver {
	case MySQLDriverName:
		return c.Resource.GetPort("3306/tcp")
	case PostgresDriverName:
		return c.Resource.GetPort("5432/tcp")
	case MSSQLDriverName:
		return c.Resource.GetPort("1433/tcp")
	}
	return ""
}

func (c *TestDB) IsDocker() bool {
	return c.DockerRepo != "" && c.DockerTag != ""
}

func (c *TestDB) IsSQLite() bool {
	return c.Driver == SQLiteDriverName
}

// IsRunnable reports whether the database can run on this machine
func (c *TestDB) IsRunnable() bool {
	if len(c.OnlyIn) == 0 {
		return true
	}
	for _, arch := range c.OnlyIn {
		if arch == runtime.GOARCH {
			return true
		}
	}
	return false
}

// DockerEnvars computes the environment variables the container needs
func (c *TestDB) DockerEnvars() []string {
	switch c.Driver {
	case PostgresDriverName:
		return []string{
			fmt.Sprintf("POSTGRES_USER=%s", c.Username()),
			fmt.Sprintf("POSTGRES_PASSWORD=%s", c.Password()),
			fmt.Sprintf("POSTGRES_DB=%s", c.DatabaseName()),
		}
	case MySQLDriverName:
		return []string{
			"MYSQL_RANDOM_ROOT_PASSWORD=true",
			"MARIADB_RANDOM_ROOT_PASSWORD=true",
			fmt.Sprintf("MYSQL_USER=%s", c.Username()),
			fmt.Sprintf("MYSQL_PASSWORD=%s", c.Password()),
			fmt.Sprintf("MYSQL_DATABASE=%s", c.DatabaseName()),
		}
	case MSSQLDriverName:
		return []string{
			"ACCEPT_EULA=Y",
			fmt.Sprintf("MSSQL_SA_PASSWORD=%s", c.Password()),
		}
	default:
		return []string{}
	}
}

// Path computes the full path to the database on disk (applies only to
// SQLite instances).
func (c *TestDB) Path() string {
	switch c.Driver {
	case SQLiteDriverName:
		if c.path == "" {
			tmpF, _ := os.CreateTemp("", "schema.*.sqlite3")
			c.path = tmpF.Name()
			_ = tmpF.Close()
		}
		return c.path
	default:
		return ""
	}
}

func (c *TestDB) DSN() string {
	switch c.Driver {
	case PostgresDriverName:
		return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", c.Username(), c.Password(), c.Port(), c.DatabaseName())
	case SQLiteDriverName:
		return fmt.Sprintf("file:%s?_busy_timeout=5000", c.Path())
	case MySQLDriverName:
		// MariaDB runs with parseTime=true and MySQL without, so both ways of
		// scanning applied_at are exercised.
		if c.DockerRepo == "mariadb" {
			return fmt.Sprintf("%s:%s@(localhost:%s)/%s?parseTime=true&multiStatements=true", c.Username(), c.Password(), c.Port(), c.DatabaseName())
		}
		return fmt.Sprintf("%s:%s@(localhost:%s)/%s?multiStatements=true", c.Username(), c.Password(), c.Port(), c.DatabaseName())
	case MSSQLDriverName:
		return fmt.Sprintf("sqlserver://%s:%s@localhost:%s/?database=%s", c.Username(), c.Password(), c.Port(), c.DatabaseName())
	}
	return "NoDSN"
}

// Init starts the container for Docker-based databases, or creates the
// data file for SQLite, and waits until a test connection succeeds.
func (c *TestDB) Init(pool *dockertest.Pool) {
	var err error

	if c.IsDocker() {
		log.Printf("Starting docker container %s:%s\n", c.DockerRepo, c.DockerTag)

		c.Resource, err = pool.RunWithOptions(&dockertest.RunOptions{
			Repository: c.DockerRepo,
			Tag:        c.DockerTag,
			Env:        c.DockerEnvars(),
		}, func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{
				Name: "no",
			}
		})
		if err != nil {
			log.Fatalf("Could not start container %s:%s: %s", c.DockerRepo, c.DockerTag, err)
		}

		// Even if everything goes OK, kill off the container after n seconds
		_ = c.Resource.Expire(180)
	}

	err = pool.Retry(func() error {
		testConn, err := sql.Open(c.Driver, c.DSN())
		if err != nil {
			return err
		}
		defer func() { _ = testConn.Close() }()
		return testConn.Ping()
	})
	if err != nil {
		log.Fatalf("Could not connect to %s: %s", c.DSN(), err)
	}
	log.Printf("Successfully connected to %s", c.DSN())
}

// Connect opens an additional connection pool to the database
func (c *TestDB) Connect(t *testing.T) *sql.DB {
	db, err := sql.Open(c.Driver, c.DSN())
	if err != nil {
		t.Error(err)
	}
	return db
}

// Cleanup purges the container, or removes the SQLite data file
func (c *TestDB) Cleanup(pool *dockertest.Pool) {
	var err error

	switch {
	case c.Driver == SQLiteDriverName:
		err = os.Remove(c.Path())
		if os.IsNotExist(err) {
			err = nil
		}

	case c.IsDocker() && c.Resource != nil:
		err = pool.Purge(c.Resource)
	}

	if err != nil {
		log.Fatalf("Could not cleanup %s: %s", c.DSN(), err)
	}
}
