package rdb

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNormalize(t *testing.T) {
	options, err := (&Options{Database: "db"}).normalize()
	require.NoError(t, err)
	assert.Equal(t, TypeMySQL, options.Type)
	assert.Equal(t, "utf8", options.Charset)
	assert.Equal(t, DeploySingle, options.Deploy)
	assert.Equal(t, 1, options.MasterNum)
	assert.True(t, options.IsFieldsStrict())

	strict := false
	options, err = (&Options{Type: TypeSQLite, Database: ":memory:", FieldsStrict: &strict, Charset: "utf8mb4"}).normalize()
	require.NoError(t, err)
	assert.False(t, options.IsFieldsStrict())
	assert.Equal(t, "utf8mb4", options.Charset)

	_, err = (&Options{Type: "oracle"}).normalize()
	assert.Error(t, err)
	_, err = (&Options{Deploy: "cluster"}).normalize()
	assert.Error(t, err)
	_, err = (*Options)(nil).normalize()
	assert.Error(t, err)
}

func TestOptionsNormalizeCopies(t *testing.T) {
	raw := &Options{Database: "db"}
	options, err := raw.normalize()
	require.NoError(t, err)
	assert.Equal(t, "", raw.Type)
	assert.NotSame(t, raw, options)
}

func TestOptionsAt(t *testing.T) {
	options := &Options{
		Type:     TypeMySQL,
		Deploy:   DeployDistributed,
		Hostname: "h0,h1,h2",
		Hostport: "3306,3307",
		Database: "db",
		Username: "u0,u1,u2",
		Password: "p0",
		Charset:  "utf8",
	}
	assert.Equal(t, 3, options.ServerNum())

	s := options.At(2)
	assert.Equal(t, "h2", s.Hostname)
	assert.Equal(t, "3306", s.Hostport)
	assert.Equal(t, "db", s.Database)
	assert.Equal(t, "u2", s.Username)
	assert.Equal(t, "p0", s.Password)
	assert.Equal(t, "h2:3306", s.Address())

	s = options.At(7)
	assert.Equal(t, "h0", s.Hostname)

	options.Deploy = DeploySingle
	assert.Equal(t, 1, options.ServerNum())
}

func TestFormatDSN(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		s := &ServerOptions{
			Type:     TypeMySQL,
			Hostname: "127.0.0.1",
			Database: "test",
			Username: "root",
			Password: "pw",
			Charset:  "utf8mb4",
			Params:   map[string]string{"parseTime": "true"},
		}
		dsn, err := s.FormatDSN()
		require.NoError(t, err)

		cfg, err := mysql.ParseDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, "root", cfg.User)
		assert.Equal(t, "pw", cfg.Passwd)
		assert.Equal(t, "tcp", cfg.Net)
		assert.Equal(t, "127.0.0.1:3306", cfg.Addr)
		assert.Equal(t, "test", cfg.DBName)
		assert.True(t, cfg.ParseTime)
		assert.Equal(t, "mysql", s.DriverName())
	})

	t.Run("sqlite", func(t *testing.T) {
		s := &ServerOptions{Type: TypeSQLite, Database: ":memory:"}
		dsn, err := s.FormatDSN()
		require.NoError(t, err)
		assert.Equal(t, ":memory:", dsn)
		assert.Equal(t, "sqlite3", s.DriverName())
		assert.Equal(t, ":memory:", s.Address())

		s.Params = map[string]string{"_fk": "1", "cache": "shared"}
		dsn, err = s.FormatDSN()
		require.NoError(t, err)
		assert.Equal(t, "file::memory:?_fk=1&cache=shared", dsn)

		_, err = (&ServerOptions{Type: TypeSQLite}).FormatDSN()
		assert.Error(t, err)
	})

	t.Run("pgsql", func(t *testing.T) {
		s := &ServerOptions{
			Type:     TypePgSQL,
			Hostname: "db.local",
			Database: "app",
			Username: "u",
			Password: "it's",
			Charset:  "utf8",
			Params:   map[string]string{"sslmode": "disable"},
		}
		dsn, err := s.FormatDSN()
		require.NoError(t, err)
		assert.Equal(t, `client_encoding='utf8' dbname='app' host='db.local' password='it\'s' port='5432' sslmode='disable' user='u'`, dsn)
		assert.Equal(t, "postgres", s.DriverName())
		assert.Equal(t, "db.local:5432", s.Address())
	})

	t.Run("explicit dsn and driver", func(t *testing.T) {
		s := &ServerOptions{Type: TypeMySQL, Driver: "rdbfake", DSN: "anything"}
		dsn, err := s.FormatDSN()
		require.NoError(t, err)
		assert.Equal(t, "anything", dsn)
		assert.Equal(t, "rdbfake", s.DriverName())
	})
}
