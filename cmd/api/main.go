package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/bus-seat-reservations/internal/adapters/mongo"
	"github.com/robertarktes/bus-seat-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/bus-seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/bus-seat-reservations/internal/booking"
	"github.com/robertarktes/bus-seat-reservations/internal/config"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/hold"
	httphandler "github.com/robertarktes/bus-seat-reservations/internal/http"
	"github.com/robertarktes/bus-seat-reservations/internal/idempotency"
	"github.com/robertarktes/bus-seat-reservations/internal/ledger"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"github.com/robertarktes/bus-seat-reservations/internal/rateLimit"
	"github.com/robertarktes/bus-seat-reservations/internal/seatmap"
	"github.com/robertarktes/bus-seat-reservations/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type catalog interface {
	GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error)
	SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "bus-seat-reservations-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel(context.Background())

	logger := observability.NewLogger()
	readiness := map[string]httphandler.Pinger{}

	var store ledger.Store
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		store = repo
		readiness["crdb"] = repo
	} else {
		logger.Warn("CRDB_DSN not set, reservations are kept in memory")
		store = memory.NewStore()
	}

	var (
		departures      catalog
		coordinatorOpts []booking.Option
	)
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		mongoDB := mongoClient.Database(cfg.MongoDB)
		mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
		if err := mongoCatalog.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("failed to ensure catalog indexes")
		}
		departures = mongoCatalog
		readiness["mongo"] = mongoCatalog
		coordinatorOpts = append(coordinatorOpts, booking.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)))
	} else {
		logger.Warn("MONGO_URI not set, serving sample departures from memory")
		departures = memory.NewCatalog(sampleDepartures(time.Now())...)
	}

	var (
		rl    *rateLimit.RateLimiter
		idemp *idempotency.Idempotency
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		departures = redisadapter.NewCatalogCache(departures, redisCache, cfg.CatalogCacheTTL, logger)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(redisCache)
		readiness["redis"] = redisCache
	}

	var sweeperOpts []sweeper.Option
	if cfg.RabbitURL != "" {
		rabbitConn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitConn.Close()
		rabbitPub, err := rabbit.NewPublisher(rabbitConn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		sweeperOpts = append(sweeperOpts, sweeper.WithPublisher(rabbitPub))
	}

	seats := seatmap.NewRegistry(departures, store, cfg.SeatsPerRow)
	holds := hold.NewManager(seats, cfg.HoldTTL, cfg.MaxPassengers)
	book := ledger.New(store, holds, seats, departures, logger)
	coordinator := booking.NewCoordinator(holds, book, seats, departures, logger, cfg.HoldTTL, cfg.MaxPassengers, coordinatorOpts...)
	expiry := sweeper.New(holds, logger, cfg.SweepInterval, sweeperOpts...)

	handlers := httphandler.NewHandlers(coordinator, departures, readiness)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(handlers, logger, rl, idemp),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return expiry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		return
	}
	logger.Info("Server exiting")
}

// sampleDepartures gives a database-less run something to book.
func sampleDepartures(now time.Time) []domain.Departure {
	day := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	routes := []struct {
		origin, destination string
		hour, duration      int
		priceCents          int64
	}{
		{"Lisbon", "Porto", 7, 3, 2500},
		{"Lisbon", "Faro", 9, 4, 1900},
		{"Porto", "Braga", 12, 1, 800},
		{"Coimbra", "Lisbon", 17, 2, 1500},
	}
	out := make([]domain.Departure, 0, len(routes))
	for _, r := range routes {
		departs := day.Add(time.Duration(r.hour) * time.Hour)
		out = append(out, domain.Departure{
			ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.origin+"-"+r.destination)),
			Origin:        r.origin,
			Destination:   r.destination,
			DepartureTime: departs,
			ArrivalTime:   departs.Add(time.Duration(r.duration) * time.Hour),
			Capacity:      40,
			PriceCents:    r.priceCents,
		})
	}
	return out
}
