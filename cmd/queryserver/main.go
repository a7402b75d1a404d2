// Command queryserver is a thin HTTP front end over the query engine: it
// wires configuration, a connection, a demo metadata source, and the
// engine itself, then exposes POST /query/{table} as described in
// spec.md §1 ("Out of scope: the HTTP layer ... this spec assumes one
// exists"). The wiring here is one reasonable such layer, not the only one.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/cache"
	"github.com/omniqueryio/polyspec/pkg/config"
	"github.com/omniqueryio/polyspec/pkg/dbconn"
	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/engine"
	"github.com/omniqueryio/polyspec/pkg/errortracking"
	"github.com/omniqueryio/polyspec/pkg/hooks"
	"github.com/omniqueryio/polyspec/pkg/logger"
	"github.com/omniqueryio/polyspec/pkg/metacache"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/middleware"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
	"github.com/omniqueryio/polyspec/pkg/server"
)

func main() {
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("failed to get configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	logger.InitErrorTracking(errortracking.NewNoOpProvider())
	logger.Info("query server starting")

	d, err := dialect.Parse(cfg.Query.DBType)
	if err != nil {
		logger.Error("invalid query.db_type: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	sqlDB, mongoDB, err := dbconn.Connect(ctx, d, dbconn.Config{
		Name:          "query",
		DSN:           cfg.Query.DSN,
		EnableLogging: cfg.Logger.Dev,
	})
	if err != nil {
		logger.Error("failed to connect to %s: %v", d, err)
		os.Exit(1)
	}

	source := newDemoSource()
	provider := cache.NewMemoryProvider(&cache.Options{DefaultTTL: cfg.Query.MetadataTTL})
	cached := metacache.New(source, provider, cfg.Query.MetadataTTL)
	view := metadata.New(cached, string(d))

	registry := hooks.NewRegistry()

	eng := engine.New(view, d, sqlDB, mongoDB, registry, cfg.Query.DeepParallelism)

	r := mux.NewRouter()
	r.HandleFunc("/query/{table}", queryHandler(eng, cfg.Query.DefaultLimit)).Methods(http.MethodPost)

	host, port := splitAddr(cfg.Server.Addr)

	var handler http.Handler = r
	handler = middleware.NewRequestSizeLimiter(cfg.Middleware.MaxRequestSize).Middleware(handler)
	if cfg.Middleware.RateLimitRPS > 0 {
		handler = middleware.NewRateLimiter(cfg.Middleware.RateLimitRPS, cfg.Middleware.RateLimitBurst).Middleware(handler)
	}
	handler = middleware.DefaultSanitizer().Middleware(handler)

	mgr := server.NewManager()
	if _, err := mgr.Add(server.Config{
		Name:            "query",
		Host:            host,
		Port:            port,
		Handler:         handler,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	}); err != nil {
		logger.Error("failed to add server: %v", err)
		os.Exit(1)
	}

	logger.Info("listening on %s", cfg.Server.Addr)
	if err := mgr.ServeWithGracefulShutdown(); err != nil {
		logger.Error("server failed: %v", err)
		os.Exit(1)
	}
}

// queryHandler decodes a JSON request body into a queryspec.Request via
// queryspec.ParseRequest and runs it through Engine.Find, writing the
// typed apperr.Error kind onto the HTTP status line spec.md §7 implies
// (ValidationError/ResourceNotFound/DialectUnsupported -> 4xx, everything
// else -> 5xx).
func queryHandler(eng *engine.Engine, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := mux.Vars(r)["table"]

		var raw map[string]any
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && err.Error() != "EOF" {
				writeError(w, apperr.Validation("invalid JSON body", map[string]any{"error": err.Error()}))
				return
			}
		}
		if raw == nil {
			raw = map[string]any{}
		}

		req, err := queryspec.ParseRequest(table, raw)
		if err != nil {
			writeError(w, apperr.Validation(err.Error(), nil))
			return
		}
		if req.Limit == 0 {
			req.Limit = defaultLimit
		}

		result, err := eng.Find(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
		switch e.Kind {
		case apperr.KindValidation, apperr.KindDialectUnsupported:
			status = http.StatusBadRequest
		case apperr.KindResourceNotFound:
			status = http.StatusNotFound
		case apperr.KindQueryError, apperr.KindTransportError:
			status = http.StatusBadGateway
		case apperr.KindInternalError:
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"error": err.Error()}
	if appErr != nil {
		body["kind"] = appErr.Kind
		if appErr.Details != nil {
			body["details"] = appErr.Details
		}
	}
	_ = json.NewEncoder(w).Encode(body)
}

// demoSource is a tiny in-memory metadata.Source standing in for a real
// information_schema/config-file collaborator (spec.md §9 leaves the
// collaborator pluggable): two tables wired with a one-to-many relation,
// enough to exercise deep relations end to end over whichever backend
// query.db_type names.
type demoSource struct {
	tables map[string]*metadata.Table
}

func newDemoSource() *demoSource {
	author := &metadata.Table{
		Name: "author",
		Columns: []metadata.Column{
			{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: metadata.TypeText},
		},
		Relations: []metadata.Relation{
			{
				PropertyName:        "books",
				Cardinality:         metadata.OneToMany,
				SourceTable:         "author",
				TargetTable:         "book",
				InversePropertyName: "author",
			},
		},
	}
	book := &metadata.Table{
		Name: "book",
		Columns: []metadata.Column{
			{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true},
			{Name: "title", Type: metadata.TypeText},
			{Name: "author_id", Type: metadata.TypeInteger},
		},
		Relations: []metadata.Relation{
			{
				PropertyName:        "author",
				Cardinality:         metadata.ManyToOne,
				SourceTable:         "book",
				TargetTable:         "author",
				ForeignKeyColumn:    "author_id",
				InversePropertyName: "books",
			},
		},
	}
	return &demoSource{tables: map[string]*metadata.Table{
		"author": author,
		"book":   book,
	}}
}

func (s *demoSource) GetTable(_ context.Context, name string) (*metadata.Table, error) {
	return s.tables[name], nil
}

func (s *demoSource) ListTables(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names, nil
}

// splitAddr accepts either ":8080" (port only) or "host:8080".
func splitAddr(addr string) (host string, port int) {
	port = 8080
	if addr == "" {
		return "", port
	}
	h, p, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, port
	}
	if n, err := strconv.Atoi(p); err == nil {
		port = n
	}
	return h, port
}
