package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/activitypub"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxIngestBody = 1 * 1024 * 1024

// Store is what the HTTP layer reads directly; writes go through the engine.
type Store interface {
	ReadNotifications(ctx context.Context, onlyUnseen bool, limit int) ([]domain.Notification, error)
	MarkNotificationsSeen(ctx context.Context, upToId int64) (int64, error)
	ReadActorById(ctx context.Context, id int64) (domain.Actor, error)
	ReadNoteById(ctx context.Context, id int64) (domain.Note, error)
	ReadAudience(ctx context.Context, noteId int64) ([]domain.Actor, error)
	SearchNotes(ctx context.Context, query string, limit int) ([]int64, error)
}

// Server wires the engine and the store to HTTP.
type Server struct {
	conf     *util.AppConfig
	store    Store
	engine   *activitypub.Engine
	accounts []domain.Actor
	gatherer prometheus.Gatherer
	log      *log.Logger
}

func NewServer(conf *util.AppConfig, store Store, engine *activitypub.Engine, accounts []domain.Actor, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{conf: conf, store: store, engine: engine, accounts: accounts, gatherer: gatherer, log: logger}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestIdMiddleware(), AccessLogMiddleware(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": util.GetVersion()})
	})
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	g.GET("/notifications.rss", s.handleRSS)

	api := g.Group("/api")
	api.GET("/notifications", s.handleNotifications)
	api.POST("/notifications/seen", s.handleMarkSeen)
	api.GET("/actors/:id", s.handleActor)
	api.GET("/notes", s.handleSearchNotes)
	api.GET("/notes/:id", s.handleNote)

	// 5 req/sec per IP, burst of 10
	ingestLimiter := NewRateLimiter(rate.Limit(5), 10)
	api.POST("/ingest", RateLimitMiddleware(ingestLimiter), MaxBytesMiddleware(maxIngestBody), s.handleIngest)
	return g
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// account picks the account of record by webfinger id, or the first configured one.
func (s *Server) account(webFingerId string) (domain.Actor, bool) {
	if len(s.accounts) == 0 {
		return domain.Actor{}, false
	}
	if webFingerId == "" {
		return s.accounts[0], true
	}
	wanted := domain.NormalizeWebFingerId(webFingerId)
	for _, account := range s.accounts {
		if strings.EqualFold(account.WebFingerId, wanted) {
			return account, true
		}
	}
	return domain.Actor{}, false
}
