package rdb

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hatlonely/rdbx/debug"
	"github.com/hatlonely/rdbx/log/logger"
	"github.com/pkg/errors"
	"github.com/smartystreets/goconvey/convey"
)

func newTestConnection(options *Options) (*Connection, *recordLogger) {
	runtime, rec := newTestRuntime()
	c, err := NewConnection(options, runtime)
	if err != nil {
		panic(err)
	}
	return c, rec
}

func newSQLiteConnection() (*Connection, *recordLogger) {
	c, rec := newTestConnection(&Options{Type: TypeSQLite, Database: ":memory:"})
	_, err := c.Execute(context.Background(), `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			score REAL,
			active BOOLEAN
		)`, nil)
	if err != nil {
		panic(err)
	}
	return c, rec
}

type user struct {
	ID     int64  `rdb:"id"`
	Name   string `rdb:"name"`
	Score  float64
	Active bool
}

func TestConnectionSQLite(t *testing.T) {
	ctx := context.Background()

	convey.Convey("sqlite 查询和写入", t, func() {
		c, _ := newSQLiteConnection()
		defer c.Close()
		executes := c.GetExecuteTimes()

		convey.Convey("INSERT 记录自增 id 和影响行数", func() {
			res, err := c.Execute(ctx, "INSERT INTO users (name, score, active) VALUES (?, ?, ?)", Args{"alice", 5, true})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.RowsAffected, convey.ShouldEqual, 1)
			convey.So(res.LastInsertID, convey.ShouldEqual, 1)
			convey.So(res.SQL, convey.ShouldEqual, "INSERT INTO users (name, score, active) VALUES ('alice', 5, 1)")
			convey.So(c.GetLastInsID(), convey.ShouldEqual, 1)
			convey.So(c.GetNumRows(), convey.ShouldEqual, 1)
			convey.So(c.GetExecuteTimes(), convey.ShouldEqual, executes+1)
			convey.So(c.GetLastSQL(), convey.ShouldEqual, res.SQL)

			convey.Convey("查询结果映射到结构体", func() {
				res, err := c.Query(ctx, "SELECT id, name, score, active FROM users WHERE id = :id", Named{"id": 1})
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(res.Rows), convey.ShouldEqual, 1)
				convey.So(res.Rows[0]["name"], convey.ShouldEqual, "alice")
				convey.So(c.GetNumRows(), convey.ShouldEqual, 1)

				var u user
				convey.So(res.Scan(&u), convey.ShouldBeNil)
				convey.So(u, convey.ShouldResemble, user{ID: 1, Name: "alice", Score: 5, Active: true})

				var users []*user
				convey.So(res.ScanAll(&users), convey.ShouldBeNil)
				convey.So(len(users), convey.ShouldEqual, 1)
				convey.So(users[0].Name, convey.ShouldEqual, "alice")
			})

			convey.Convey("UPDATE 不记录自增 id", func() {
				res, err := c.Execute(ctx, "UPDATE users SET score = ? WHERE id = ?", Args{6, 1})
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.RowsAffected, convey.ShouldEqual, 1)
				convey.So(res.LastInsertID, convey.ShouldEqual, 0)
				convey.So(c.GetLastInsID(), convey.ShouldEqual, 1)
			})

			convey.Convey("REPLACE INTO 记录自增 id", func() {
				res, err := c.Execute(ctx, "  replace into users (name) VALUES (?)", Args{"bob"})
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.LastInsertID, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("查询计数只在成功时增加", func() {
			queries := c.GetQueryTimes(false)
			total := c.GetQueryTimes(true)

			_, err := c.Query(ctx, "SELECT * FROM users", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(c.GetQueryTimes(false), convey.ShouldEqual, queries+1)
			convey.So(c.GetQueryTimes(true), convey.ShouldEqual, total+1)

			_, err = c.Query(ctx, "SELECT * FROM not_exists", nil)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(c.GetQueryTimes(false), convey.ShouldEqual, queries+1)
		})

		convey.Convey("驱动错误包装为 ExecError", func() {
			_, err := c.Execute(ctx, "INSERT INTO not_exists (a) VALUES (?)", Args{1})
			var execErr *ExecError
			convey.So(errors.As(err, &execErr), convey.ShouldBeTrue)
			convey.So(execErr.SQL, convey.ShouldEqual, "INSERT INTO not_exists (a) VALUES (1)")
			convey.So(execErr.Error(), convey.ShouldContainSubstring, "[ SQL ] : INSERT INTO not_exists")
			convey.So(c.GetError(), convey.ShouldEqual, err)
			convey.So(c.GetExecuteTimes(), convey.ShouldEqual, executes)
		})

		convey.Convey("空结果", func() {
			res, err := c.Query(ctx, "SELECT * FROM users WHERE id = ?", Args{100})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(res.Rows), convey.ShouldEqual, 0)
			var u user
			convey.So(res.Scan(&u), convey.ShouldNotBeNil)
		})

		convey.Convey("WithRawRows 返回未读取的结果集", func() {
			_, err := c.Execute(ctx, "INSERT INTO users (name) VALUES (?), (?)", Args{"a", "b"})
			convey.So(err, convey.ShouldBeNil)

			res, err := c.Query(ctx, "SELECT name FROM users ORDER BY id", nil, WithRawRows())
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Rows, convey.ShouldBeNil)
			var names []string
			for res.Raw.Next() {
				var name string
				convey.So(res.Raw.Scan(&name), convey.ShouldBeNil)
				names = append(names, name)
			}
			convey.So(names, convey.ShouldResemble, []string{"a", "b"})
			c.Free()
		})

		convey.Convey("关闭之后返回 ErrConnectionClosed", func() {
			convey.So(c.Close(), convey.ShouldBeNil)
			_, err := c.Query(ctx, "SELECT 1", nil)
			convey.So(err, convey.ShouldEqual, ErrConnectionClosed)
			convey.So(c.Close(), convey.ShouldBeNil)
		})
	})
}

func TestConnectionFetchSQL(t *testing.T) {
	ctx := context.Background()

	convey.Convey("WithFetchSQL 不访问数据库", t, func() {
		opens := testDriver.Stats("conn-fetch").opens
		c, _ := newTestConnection(fakeOptions("conn-fetch"))
		defer c.Close()

		res, err := c.Query(ctx, "SELECT * FROM t WHERE id = ?", Args{3}, WithFetchSQL())
		convey.So(err, convey.ShouldBeNil)
		convey.So(res.SQL, convey.ShouldEqual, "SELECT * FROM t WHERE id = 3")
		convey.So(res.Rows, convey.ShouldBeNil)

		exec, err := c.Execute(ctx, "DELETE FROM t WHERE id = :id", Named{"id": 3}, WithFetchSQL())
		convey.So(err, convey.ShouldBeNil)
		convey.So(exec.SQL, convey.ShouldEqual, "DELETE FROM t WHERE id = 3")

		convey.So(c.GetQueryTimes(true), convey.ShouldEqual, 0)
		convey.So(c.pool.Len(), convey.ShouldEqual, 0)
		convey.So(testDriver.Stats("conn-fetch").opens, convey.ShouldEqual, opens)
	})
}

func TestConnectionBindError(t *testing.T) {
	ctx := context.Background()

	convey.Convey("绑定失败时不执行语句", t, func() {
		opens := testDriver.Stats("conn-bind").opens
		c, _ := newTestConnection(fakeOptions("conn-bind"))
		defer c.Close()

		bind := Args{Param{Value: "abc", Type: ParamInt}}
		_, err := c.Execute(ctx, "UPDATE t SET a = ?", bind)
		var bindErr *BindParamError
		convey.So(errors.As(err, &bindErr), convey.ShouldBeTrue)
		convey.So(bindErr.Param, convey.ShouldEqual, "1")
		convey.So(bindErr.SQL, convey.ShouldEqual, "UPDATE t SET a = 'abc'")
		convey.So(bindErr.Options, convey.ShouldEqual, c.Options())
		convey.So(bindErr.Bind, convey.ShouldResemble, bind)
		convey.So(c.GetExecuteTimes(), convey.ShouldEqual, 0)
		convey.So(testDriver.Stats("conn-bind").opens, convey.ShouldEqual, opens)
	})
}

func TestConnectionFallback(t *testing.T) {
	ctx := context.Background()

	convey.Convey("从服务器连接失败时使用主服务器", t, func() {
		c, rec := newTestConnection(&Options{
			Type:       TypeMySQL,
			Driver:     "rdbfake",
			Deploy:     DeployDistributed,
			RWSeparate: true,
			Hostname:   "master,slave",
			DSN:        "conn-fallback-master,conn-fallback-fail-open",
		})
		defer c.Close()
		opens := testDriver.Stats("conn-fallback-master").opens

		res, err := c.Query(ctx, "SELECT * FROM t", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(res.Rows[0]["name"], convey.ShouldEqual, "alice")

		link, ok := c.pool.Get(1)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(link.Server().DSN, convey.ShouldEqual, "conn-fallback-master")
		convey.So(testDriver.Stats("conn-fallback-master").opens, convey.ShouldEqual, opens+1)
		convey.So(rec.Records()[0].msg, convey.ShouldContainSubstring, "fallback")

		// 写操作使用 0 号连接
		_, err = c.Execute(ctx, "DELETE FROM t", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(c.pool.Len(), convey.ShouldEqual, 2)
		convey.So(testDriver.Stats("conn-fallback-master").opens, convey.ShouldEqual, opens+2)
	})

	convey.Convey("路由配置错误在建连之前返回", t, func() {
		_, err := NewConnectionWithOptions(&Options{
			Type:       TypeMySQL,
			Deploy:     DeployDistributed,
			RWSeparate: true,
			Hostname:   "a,b",
			MasterNum:  2,
		})
		var configErr *ConfigError
		convey.So(errors.As(err, &configErr), convey.ShouldBeTrue)
	})

	convey.Convey("非法配置", t, func() {
		_, err := NewConnectionWithOptions(&Options{Type: "oracle"})
		var configErr *ConfigError
		convey.So(errors.As(err, &configErr), convey.ShouldBeTrue)
	})
}

func TestConnectionDebug(t *testing.T) {
	ctx := context.Background()

	convey.Convey("调试模式", t, func() {
		c, rec := newTestConnection(&Options{Type: TypeSQLite, Database: ":memory:", Debug: true})
		defer c.Close()

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		var ticks int
		c.runtime.newTimer = func() *debug.Timer {
			return debug.NewTimerWithClock(func() time.Time {
				ticks++
				return base.Add(time.Duration(ticks) * 250 * time.Millisecond)
			})
		}

		_, err := c.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)", nil)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("没有监听函数时写 sql 级别日志", func() {
			_, err := c.Query(ctx, "SELECT * FROM t WHERE id = ?", Args{1})
			convey.So(err, convey.ShouldBeNil)

			var messages []string
			for _, r := range rec.Records() {
				if r.level == logger.LevelSQL {
					messages = append(messages, r.msg)
				}
			}
			convey.So(messages, convey.ShouldContain, "[ SQL ] SELECT * FROM t WHERE id = 1 [ RunTime:0.250000s ]")
			convey.So(messages[len(messages)-1], convey.ShouldStartWith, "[ EXPLAIN : ")
		})

		convey.Convey("监听函数收到 SQL、运行时间和执行计划", func() {
			type event struct {
				sql     string
				runtime float64
				explain []Row
			}
			var events []event
			c.Listen(func(sql string, runtime float64, explain []Row) {
				events = append(events, event{sql, runtime, explain})
			})

			_, err := c.Execute(ctx, "INSERT INTO t (name) VALUES (?)", Args{"x"})
			convey.So(err, convey.ShouldBeNil)
			_, err = c.Query(ctx, "SELECT * FROM t", nil)
			convey.So(err, convey.ShouldBeNil)
			_, err = c.Query(ctx, "SELECT * FROM t", nil, WithRawRows())
			convey.So(err, convey.ShouldBeNil)
			c.Free()

			convey.So(len(events), convey.ShouldEqual, 3)
			convey.So(events[0].sql, convey.ShouldEqual, "INSERT INTO t (name) VALUES ('x')")
			convey.So(events[0].runtime, convey.ShouldAlmostEqual, 0.25)
			convey.So(events[0].explain, convey.ShouldBeNil)
			convey.So(events[1].explain, convey.ShouldNotBeEmpty)
			// 直接返回结果集时不查询执行计划
			convey.So(events[2].explain, convey.ShouldBeNil)
		})
	})

	convey.Convey("监听函数中可以继续使用同一个连接", t, func() {
		c, _ := newTestConnection(&Options{Type: TypeSQLite, Database: ":memory:", Debug: true})
		defer c.Close()
		_, err := c.Execute(ctx, "CREATE TABLE sql_log (query TEXT)", nil)
		convey.So(err, convey.ShouldBeNil)

		c.Listen(func(sql string, runtime float64, explain []Row) {
			if selectPattern.MatchString(sql) {
				_, _ = c.Execute(ctx, "INSERT INTO sql_log (query) VALUES (?)", Args{sql})
			}
		})

		done := make(chan error, 1)
		go func() {
			_, err := c.Query(ctx, "SELECT 1", nil)
			done <- err
		}()
		select {
		case err := <-done:
			convey.So(err, convey.ShouldBeNil)
		case <-time.After(2 * time.Second):
			convey.So("query blocked by listener", convey.ShouldBeEmpty)
		}

		result, err := c.Query(ctx, "SELECT query FROM sql_log", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(len(result.Rows), convey.ShouldEqual, 1)
		convey.So(result.Rows[0]["query"], convey.ShouldEqual, "SELECT 1")
	})

	convey.Convey("关闭调试模式时不触发监听函数", t, func() {
		c, _ := newTestConnection(fakeOptions("conn-nodebug"))
		defer c.Close()
		var n int
		c.Listen(func(sql string, runtime float64, explain []Row) { n++ })
		_, err := c.Query(ctx, "SELECT * FROM t", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(n, convey.ShouldEqual, 0)
	})

	convey.Convey("执行计划失败只记录警告", t, func() {
		options := fakeOptions("conn-explain")
		options.Debug = true
		c, rec := newTestConnection(options)
		defer c.Close()

		var explain []Row
		c.Listen(func(sql string, runtime float64, plan []Row) { explain = plan })
		_, err := c.Query(ctx, "SELECT * FROM t", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(explain, convey.ShouldResemble, []Row{{"plan": "SCAN t"}})

		_, err = c.Query(ctx, "SELECT * FROM NOPLAN", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(explain, convey.ShouldBeNil)
		records := rec.Records()
		convey.So(records[len(records)-1].level, convey.ShouldEqual, slog.LevelWarn)
		convey.So(records[len(records)-1].msg, convey.ShouldEqual, "explain failed")
	})
}

func TestConnectionHelpers(t *testing.T) {
	convey.Convey("表名和配置", t, func() {
		c, _ := newTestConnection(&Options{Type: TypeSQLite, Database: ":memory:", Prefix: "think_"})
		defer c.Close()

		convey.So(c.ParseSQLTable("SELECT * FROM __USER_INFO__ JOIN __ORDER__"), convey.ShouldEqual,
			"SELECT * FROM think_user_info JOIN think_order")
		convey.So(c.ParseSQLTable("SELECT * FROM users"), convey.ShouldEqual, "SELECT * FROM users")
		convey.So(c.GetTableName("UserInfo"), convey.ShouldEqual, "think_user_info")
		convey.So(c.GetTableName("order"), convey.ShouldEqual, "think_order")
		convey.So(c.Quote("it's"), convey.ShouldEqual, "'it''s'")

		v, ok := c.GetAttribute("prefix")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(v, convey.ShouldEqual, "think_")
		v, ok = c.GetAttribute("charset")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(v, convey.ShouldEqual, "utf8")
		_, ok = c.GetAttribute("unknown")
		convey.So(ok, convey.ShouldBeFalse)

		convey.So(c.GetDriverName(), convey.ShouldEqual, TypeSQLite)
		_, err := c.Query(context.Background(), "SELECT 1", nil)
		convey.So(err, convey.ShouldBeNil)
		convey.So(c.GetDriverName(), convey.ShouldEqual, TypeSQLite)
	})
}
