// Command coreserver is one node of the cluster: it reads its own
// scalar settings and the cluster topology, wires up the handler
// registry, database pool, notification table, spatial cache and
// dispatch loop, and serves TCP and/or WebSocket clients until
// terminated — the entrypoint shape the reference binutil.Daemonize plus
// signal-driven shutdown loop follows.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	daemon "github.com/sevlyar/go-daemon"
	"golang.org/x/sync/errgroup"

	"github.com/riftkeep/gamecore/config"
	"github.com/riftkeep/gamecore/corelog"
	"github.com/riftkeep/gamecore/dispatch"
	"github.com/riftkeep/gamecore/handler"
	"github.com/riftkeep/gamecore/handler/demo"
	"github.com/riftkeep/gamecore/notify"
	"github.com/riftkeep/gamecore/opmon"
	"github.com/riftkeep/gamecore/spatial"
	"github.com/riftkeep/gamecore/transport/broker"
	"github.com/riftkeep/gamecore/transport/tcp"
	"github.com/riftkeep/gamecore/transport/ws"
	"github.com/riftkeep/gamecore/txdb"

	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", "node.ini", "path to the node's INI config")
	topologyPath := flag.String("topology", "topology.yaml", "path to the cluster topology manifest")
	nodeID := flag.Int("id", 1, "this node's numeric id, selects the [node<id>] section")
	daemonize := flag.Bool("daemon", false, "run detached in the background")
	flag.Parse()

	if *daemonize {
		ctx := new(daemon.Context)
		child, err := ctx.Reborn()
		if err != nil {
			corelog.Fatalf("coreserver: daemonize failed: %+v", err)
		}
		if child != nil {
			os.Exit(0)
		}
		defer ctx.Release()
	}

	cfg, err := config.LoadNodeConfig(*configPath, *nodeID)
	if err != nil {
		corelog.Fatalf("coreserver: %+v", err)
	}

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		corelog.Fatalf("coreserver: %+v", err)
	}

	role := "dispatcher"
	switch {
	case cfg.IsBroker:
		role = "broker"
	case cfg.AreaID != 0:
		role = "processor"
	}
	corelog.SetComponent(role)
	corelog.SetLevel(parseLevel(cfg.LogLevel))

	if err := run(cfg, topo, role); err != nil {
		corelog.Fatalf("coreserver: %+v", err)
	}
}

func run(cfg config.NodeConfig, topo *config.Topology, role string) error {
	registry := handler.NewRegistry(cfg.Workers)
	if err := registerHandlers(registry); err != nil {
		return err
	}

	dsn := config.ExpandEnv(cfg.DatabaseDSN)
	pool, closeDB, err := openPool(dsn, cfg.MigrationsDir, cfg.Workers)
	if err != nil {
		return err
	}
	defer closeDB()

	notifyTable := notify.NewTable()
	cache := spatial.New(0, 0, 4096, 4096, 10)

	loop := dispatch.NewLoop(registry, pool, notifyTable, cfg.TickInterval)
	loop.OnTick = func(worker int) {
		if worker != 0 {
			return
		}
		session := cache.BeginUpdate()
		defer session.End()
		for pos := 0; ; pos++ {
			u, err := session.GetNextUpdatable(pos)
			if err != nil || u == nil {
				return
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := opmon.NewMonitor()
	loop.Monitor = monitor
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { monitor.DumpForever(ctx, time.Minute); return nil })

	if cfg.IsBroker {
		brokerTable := notify.NewBroker()
		srv := &broker.Server{ListenAddr: topo.BrokerAddr, Table: brokerTable}
		g.Go(func() error { srv.ServeForever(ctx); return nil })
	}

	if cfg.AreaID != 0 && cfg.BrokerAddr != "" {
		conn, closeBroker, err := broker.Dial(config.ExpandEnv(cfg.BrokerAddr), cfg.AreaID)
		if err != nil {
			return err
		}
		defer closeBroker()
		notifyTable.BecomeProcessor(cfg.AreaID, conn)
	}

	if cfg.TCPPort != 0 {
		addr := formatPort(cfg.TCPPort)
		srv := &tcp.Server{ListenAddr: addr, Loop: loop, NotifyTable: notifyTable}
		g.Go(func() error { srv.ServeForever(ctx); return nil })
	}

	if cfg.WebSocketPort != 0 {
		addr := formatPort(cfg.WebSocketPort)
		wsSrv := &ws.Server{Loop: loop, NotifyTable: notifyTable}
		mux := http.NewServeMux()
		mux.Handle("/ws", wsSrv)
		httpSrv := &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			go func() {
				<-ctx.Done()
				httpSrv.Close()
			}()
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	corelog.Infof("coreserver: %s node %d ready", role, cfg.AreaID)
	return g.Wait()
}

func registerHandlers(registry *handler.Registry) error {
	if err := registry.Register(demo.PingDecl, demo.NewPing); err != nil {
		return err
	}
	if err := registry.Register(demo.EchoDecl, demo.NewEcho); err != nil {
		return err
	}
	if err := registry.Register(demo.AccountRecordDecl, demo.NewAccountRecordList); err != nil {
		return err
	}
	return nil
}

// openPool opens the node's per-worker database pool. A DSN prefixed
// with "sqlite:" opens `workers` independent in-process sqlite handles
// instead of dialing Postgres, for running a node without a live
// database during development.
func openPool(dsn, migrationsDir string, workers int) (txdb.Pool, func() error, error) {
	if strings.HasPrefix(dsn, "sqlite:") {
		path := strings.TrimPrefix(dsn, "sqlite:")
		dbs := make([]*sql.DB, workers)
		for i := 0; i < workers; i++ {
			db, err := sql.Open("sqlite", path)
			if err != nil {
				return nil, nil, err
			}
			dbs[i] = db
		}
		return txdb.NewPool(dbs), func() error {
			var firstErr error
			for _, db := range dbs {
				if err := db.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		}, nil
	}

	if err := txdb.Migrate(dsn, migrationsDir); err != nil {
		return nil, nil, err
	}
	return txdb.OpenPostgresPool(dsn, workers)
}

func parseLevel(name string) corelog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return corelog.DebugLevel
	case "info":
		return corelog.InfoLevel
	case "warn":
		return corelog.WarnLevel
	case "error":
		return corelog.ErrorLevel
	default:
		return corelog.InfoLevel
	}
}

func formatPort(port int) string {
	return ":" + strconv.Itoa(port)
}
