package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/twinelabs/twine/internal/backplane"
	"github.com/twinelabs/twine/internal/janitor"
	"github.com/twinelabs/twine/internal/logger"
	"github.com/twinelabs/twine/internal/registry"
	"github.com/twinelabs/twine/internal/relay"
	"github.com/twinelabs/twine/internal/server"
	"github.com/twinelabs/twine/internal/store"
	dynamodbstore "github.com/twinelabs/twine/internal/store/dynamodb"
	mongodbstore "github.com/twinelabs/twine/internal/store/mongodb"
	postgresstore "github.com/twinelabs/twine/internal/store/postgres"
	"github.com/twinelabs/twine/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TWINE_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for the publish API" default:"*" env:"TWINE_CORS_ORIGINS"`

	// Message log configuration
	StoreType     string             `help:"message log backend" default:"memory" env:"TWINE_STORE_TYPE" enum:"memory,mongodb,dynamodb,postgres"`
	MongoStore    MongoStoreFlags    `embed:"" prefix:"mongo-"`
	DynamoStore   DynamoStoreFlags   `embed:"" prefix:"dynamo-"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Backplane configuration
	NATSURL string `help:"NATS server URL for the fan-out backplane (empty uses the in-process backplane)" default:"" env:"TWINE_NATS_URL"`

	// Replay configuration
	MaxReturn int `help:"maximum missed messages replayed per reconnect" default:"1000" env:"TWINE_MAX_RETURN"`
	PageSize  int `help:"messages fetched per history query" default:"100" env:"TWINE_PAGE_SIZE"`

	// Maintenance configuration
	SessionTTL      time.Duration `help:"idle session expiry" default:"24h" env:"TWINE_SESSION_TTL"`
	Retention       time.Duration `help:"message retention (0 disables pruning)" default:"720h" env:"TWINE_RETENTION"`
	JanitorSchedule string        `help:"cron schedule for maintenance sweeps" default:"*/3 * * * *" env:"TWINE_JANITOR_SCHEDULE"`

	// Operational modes
	Tracing bool `help:"enable telemetry export" default:"false" env:"TWINE_TRACING"`
}

type MongoStoreFlags struct {
	URI        string `help:"MongoDB connection URI" default:"mongodb://localhost:27017" env:"TWINE_MONGO_URI"`
	Database   string `help:"MongoDB database name" default:"twine" env:"TWINE_MONGO_DATABASE"`
	Collection string `help:"MongoDB collection name" default:"messages" env:"TWINE_MONGO_COLLECTION"`
}

type DynamoStoreFlags struct {
	Table    string `help:"DynamoDB table name" default:"twine_messages" env:"TWINE_DYNAMO_TABLE"`
	Endpoint string `help:"custom DynamoDB endpoint (local development)" env:"TWINE_DYNAMO_ENDPOINT"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TWINE_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting relay")

	if c.Tracing {
		log.Info().Msg("Telemetry export is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "twine", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	msgLog, cleanup, err := c.openMessageLog(ctx)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	var bus backplane.Backplane
	if c.NATSURL != "" {
		nc, err := backplane.ConnectNATS(ctx, c.NATSURL)
		if err != nil {
			return err
		}
		bus = nc
		log.Info().Str("url", c.NATSURL).Msg("Using NATS backplane")
	} else {
		bus = backplane.NewMemory()
		log.Info().Msg("Using in-process backplane")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close backplane")
		}
	}()

	reg := registry.New()

	jan := janitor.New(msgLog, reg, c.Retention, c.SessionTTL)
	if err := jan.Start(c.JanitorSchedule); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	defer jan.Stop()

	srv := server.New(server.Config{
		Publisher:  relay.NewPublisher(msgLog, bus),
		Replayer:   relay.NewReplayer(msgLog, c.PageSize, c.MaxReturn),
		Classifier: relay.NewClassifier(reg),
		Registry:   reg,
		Hub:        relay.NewHub(bus),
		CookieTTL:  c.SessionTTL,
	})

	handler := logger.Requests(log)(srv.Handler(c.CORSOrigins))
	httpServer := configureHTTPServer(c.Listen, handler)

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown HTTP server")
		}
	}()

	log.Info().Str("addr", c.Listen).Str("store", c.StoreType).Msg("Starting HTTP server")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openMessageLog creates the configured message log backend. The returned
// cleanup closes backend resources and may be nil.
func (c *ServerCmd) openMessageLog(ctx context.Context) (store.MessageLog, func(), error) {
	switch c.StoreType {
	case "mongodb":
		msgLog, err := mongodbstore.NewMessageLog(ctx, &mongodbstore.Config{
			URI:        c.MongoStore.URI,
			Database:   c.MongoStore.Database,
			Collection: c.MongoStore.Collection,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create mongodb message log: %w", err)
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = msgLog.Close(closeCtx)
		}
		return msgLog, cleanup, nil

	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
			if c.DynamoStore.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.DynamoStore.Endpoint)
			}
		})
		return dynamodbstore.NewMessageLog(client, c.DynamoStore.Table), nil, nil

	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return postgresstore.NewMessageLog(pool), pool.Close, nil

	default:
		return store.NewMemoryMessageLog(), nil, nil
	}
}
