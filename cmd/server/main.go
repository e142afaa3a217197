package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"yardguard/internal/actuator"
	"yardguard/internal/api"
	"yardguard/internal/bus"
	"yardguard/internal/capture"
	"yardguard/internal/config"
	"yardguard/internal/coordinator"
	"yardguard/internal/data"
	"yardguard/internal/detector"
	"yardguard/internal/fusion"
	"yardguard/internal/gating"
	"yardguard/internal/notify"
	"yardguard/internal/video"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to the yaml config file")
	devMode := flag.Bool("dev", false, "Run without postgres (in-memory event store)")
	flag.Parse()

	// .env is optional; real deployments set the environment themselves.
	_ = godotenv.Load()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	provider := config.NewProvider(*configPath, cfg)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	provider.StartWatcher(rootCtx)

	// 2. Event Store
	var store data.EventStore
	var db *sql.DB
	if *devMode {
		log.Printf("Server: dev mode, events held in memory")
		store = data.NewMemoryEventStore()
	} else {
		db, err = sql.Open("postgres", postgresDSN())
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("DB ping error: %v", err)
		}
		store = data.EventModel{DB: db}
	}

	// 3. Cooldown Store (redis when configured, else in-process)
	var cooldowns gating.CooldownStore
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Fatalf("Redis ping error: %v", err)
		}
		cooldowns = gating.NewRedisCooldownStore(rdb, cfg.Redis.KeyPrefix)
		log.Printf("Server: zone cooldowns shared via redis at %s", cfg.Redis.Addr)
	} else {
		cooldowns = gating.NewMemoryCooldownStore()
	}

	// 4. Pipeline Components
	cameraGateway := os.Getenv("CAMERA_GATEWAY_URL")
	if cameraGateway == "" {
		cameraGateway = "http://localhost:1984/api/frame"
	}
	camera := capture.NewHTTPCameraClient(cameraGateway, 10*time.Second)
	det := detector.NewHTTPClient(cfg.Detector.URL, time.Duration(cfg.Detector.TimeoutMs)*time.Millisecond)
	engine := fusion.NewEngine(det)
	burst := capture.NewController(camera)
	registry := video.NewRegistry()
	videoCtl := video.NewController(registry, camera, video.NewFFmpegSampler(), engine)
	act := actuator.NewHTTPClient(cfg.Actuator.URL, time.Duration(cfg.Actuator.TimeoutMs)*time.Millisecond)
	policy := gating.NewPolicy(cooldowns)

	// 5. Resolved-event feed
	var publisher coordinator.ResolvedPublisher
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("yardguard"))
		if err != nil {
			log.Fatalf("NATS connect error: %v", err)
		}
		publisher = notify.NewPublisher(nc, cfg.NATS.Subject, cfg.NATS.PublishRetryMax)
	} else {
		log.Printf("[WARN] Server: no NATS url configured, resolved events will not be published")
	}

	coord := coordinator.New(store, burst, videoCtl, engine, policy, cooldowns, act, provider, publisher)

	// 6. Camera Bus
	dedup := bus.NewSignalDedup(cfg.Bus.DedupMaxKeys, time.Duration(cfg.Bus.DedupTTLSeconds)*time.Second)
	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		Broker:      cfg.Bus.Broker,
		ClientID:    cfg.Bus.ClientID,
		Username:    cfg.Bus.Username,
		Password:    cfg.Bus.Password,
		TopicPrefix: cfg.Bus.TopicPrefix,
	}, bus.Handlers{
		OnMotion: func(cameraID string, at time.Time) {
			// Each signal gets its own dispatching goroutine so one camera's
			// burst never delays another camera's fast path.
			go coord.HandleMotion(rootCtx, cameraID, at)
		},
		OnRecording: func(cameraID, url string, at time.Time) {
			registry.Notify(video.RecordingSignal{CameraID: cameraID, URL: url, NotifiedAt: at})
		},
	}, dedup)
	if err != nil {
		log.Fatalf("Bus connect error: %v", err)
	}
	if err := consumer.Subscribe(); err != nil {
		log.Fatalf("Bus subscribe error: %v", err)
	}

	// 7. Ops API
	pingers := map[string]api.Pinger{}
	if db != nil {
		pingers["postgres"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	}
	if rdb != nil {
		pingers["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if nc != nil {
		pingers["nats"] = func(ctx context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		}
	}
	server := api.NewServer(cfg.Server.ListenAddr, store, pingers)
	server.Start()

	log.Printf("Server: yardguard up, watching %s/+", cfg.Bus.TopicPrefix)

	// 8. Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("Server: shutdown signal received")

	consumer.Close()
	coord.Drain(time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server: API shutdown: %v", err)
	}
	if nc != nil {
		nc.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	rootCancel()
	log.Printf("Server: bye")
}

func postgresDSN() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "yardguard")
	pass := os.Getenv("DB_PASSWORD")
	name := envOr("DB_NAME", "yardguard")
	ssl := envOr("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
