// Command bare-server runs the bare tunnel: a mount-prefix HTTP(S) server
// speaking the v1/v2/v3 envelope protocols over internal/version1,
// internal/version2, internal/version3, wired against the meta store,
// rate limiter, SSRF-filtered fetcher, and manifest in internal/server.
//
// Configuration follows the teacher's main.go split: required runtime
// input (port, TLS/Redis toggles) from the environment via envconfig, and
// the instance manifest/maintainer block plus rate-limit tuning from a YAML
// file.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/ratelimit"
	"github.com/tomphttp/bare-server-go/internal/secret"
	"github.com/tomphttp/bare-server-go/internal/server"
	"github.com/tomphttp/bare-server-go/internal/version1"
	"github.com/tomphttp/bare-server-go/internal/version2"
	"github.com/tomphttp/bare-server-go/internal/version3"
)

const app = "bare_server"

// Input is the required runtime configuration, loaded from the
// BARE_SERVER_* environment, per the teacher's envconfig Input.
type Input struct {
	Port         int    `default:"8080"`
	InternalPort int    `split_words:"true" default:"8081"`
	Prefix       string `default:"/"`
	Config       string `required:"true"`

	RedisHost string `split_words:"true"`
	RedisPort int    `split_words:"true" default:"6379"`

	// TLSCertSecret/TLSKeySecret name the secrets holding PEM certificate
	// and key material; TLSSource selects how they're resolved ("file",
	// "env", or "gsm"). HTTPS termination is skipped entirely when unset.
	TLSCertSecret string `split_words:"true"`
	TLSKeySecret  string `split_words:"true"`
	TLSSource     string `split_words:"true" default:"file"`

	AllowLocal bool `split_words:"true"`
}

// Config is the static instance-manifest/maintainer/rate-limit block,
// loaded from YAML, per the teacher's Config/ParseConfig.
type Config struct {
	Project struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Repository  string `yaml:"repository"`
		Version     string `yaml:"version"`
	} `yaml:"project"`
	Maintainer *struct {
		Email   string `yaml:"email"`
		Website string `yaml:"website"`
	} `yaml:"maintainer"`
	RateLimit struct {
		Enabled      bool   `yaml:"enabled"`
		Limit        uint64 `yaml:"limit"`
		DurationSecs int64  `yaml:"durationSeconds"`
	} `yaml:"rateLimit"`
}

func ParseConfig(data string) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(strings.NewReader(data)).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config data: %w", err)
	}

	return c, nil
}

func main() {
	logger := log.New(os.Stdout, "bare: ", log.LstdFlags)
	logger.Println("Server is starting...")

	var input Input
	if err := envconfig.Process(app, &input); err != nil {
		logger.Fatalf("Failed to load input: %v\n", err)
	}

	configData, err := os.ReadFile(input.Config)
	if err != nil {
		logger.Fatalf("Failed to read config: %v\n", err)
	}

	cfg, err := ParseConfig(string(configData))
	if err != nil {
		logger.Fatalf("Failed to load config: %v\n", err)
	}

	tlsConfig, err := loadTLSConfig(input)
	if err != nil {
		logger.Fatalf("Failed to load TLS material: %v\n", err)
	}

	policy := fetch.DefaultPolicy()
	if input.AllowLocal {
		policy = fetch.NoPolicy()
	}

	fetcher := fetch.NewFetcher(policy, tlsConfig)
	defer fetcher.Close()

	store, closeStore := newMetaStore(input)
	defer closeStore()

	records := meta.NewRecords(store)
	reaper := meta.NewReaper(store, logger)
	defer reaper.Close()

	limitStrategy := newRateLimitStrategy(input)

	metrics := server.NewMetrics()

	var healthStore server.Pinger
	if p, ok := store.(server.Pinger); ok {
		healthStore = p
	}

	health, err := server.NewHealth(healthStore)
	if err != nil {
		logger.Fatalf("Failed to build health checks: %v\n", err)
	}

	var maintainer *bare.Maintainer
	if cfg.Maintainer != nil {
		maintainer = &bare.Maintainer{Email: cfg.Maintainer.Email, Website: cfg.Maintainer.Website}
	}

	project := bare.Project{
		Name:        cfg.Project.Name,
		Description: cfg.Project.Description,
		Repository:  cfg.Project.Repository,
		Version:     cfg.Project.Version,
	}

	srv := server.New(server.Config{
		Prefix:      input.Prefix,
		RateLimit:   ratelimit.NewHandler(limitStrategy, ratelimit.KeyFromIP()),
		RateLimitOn: cfg.RateLimit.Enabled,
		RateLimitConfig: ratelimit.Config{
			Limit:    cfg.RateLimit.Limit,
			Duration: time.Duration(cfg.RateLimit.DurationSecs) * time.Second,
		},
		LogErrors: true,
		Manifest: func() bare.Manifest {
			return bare.NewManifest(project, maintainer)
		},
	})

	version1.Mount(srv, &version1.Handler{Fetcher: fetcher, Records: records, LogErrors: true})
	version2.Mount(srv, &version2.Handler{Fetcher: fetcher, Records: records, LogErrors: true})
	version3.Mount(srv, &version3.Handler{Fetcher: fetcher, LogErrors: true})

	handler := metrics.WithMetrics(server.WithLogging(logger)(srv))

	internal := server.NewInternal(fmt.Sprintf(":%d", input.InternalPort), health.Handler(), promhttp.Handler())

	var (
		done       = make(chan bool)
		quit       = make(chan os.Signal, 1)
		healthy    int32
		listenAddr = fmt.Sprintf(":%d", input.Port)
	)

	httpServer := &http.Server{
		Addr:         listenAddr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
		Handler:      handler,
		TLSConfig:    tlsConfig,
	}

	signal.Notify(quit, os.Interrupt)

	go func() {
		<-quit
		logger.Println("Server is shutting down...")
		atomic.StoreInt32(&healthy, 0)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		httpServer.SetKeepAlivesEnabled(false)

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Printf("Could not gracefully shutdown the server: %v\n", err)
		}

		_ = srv.Close(ctx)
		_ = internal.Shutdown(ctx)

		close(done)
	}()

	go func() {
		if err := internal.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("Internal listener stopped: %v\n", err)
		}
	}()

	logger.Println("Server is ready to handle requests at", listenAddr)
	atomic.StoreInt32(&healthy, 1)

	var listenErr error
	if tlsConfig != nil {
		listenErr = httpServer.ListenAndServeTLS("", "")
	} else {
		listenErr = httpServer.ListenAndServe()
	}

	if listenErr != nil && listenErr != http.ErrServerClosed {
		logger.Fatalf("Could not listen on %s: %v\n", listenAddr, listenErr)
	}

	<-done
	logger.Println("Server stopped")
}

// loadTLSConfig resolves TLS certificate material through internal/secret
// when both TLSCertSecret and TLSKeySecret are configured; nil (plain
// HTTP) otherwise. TLSSource picks the backing Source: a local path
// (default, matching most container deployments), an environment variable,
// or Google Secret Manager.
func loadTLSConfig(input Input) (*tls.Config, error) {
	if input.TLSCertSecret == "" || input.TLSKeySecret == "" {
		return nil, nil
	}

	var src secret.Source

	switch input.TLSSource {
	case "env":
		src = secret.NewEnvSource()
	case "gsm":
		gsm, err := secret.NewGoogleSecretManager(context.Background())
		if err != nil {
			return nil, err
		}

		src = secret.NewBackoffSource(3, time.Second, gsm)
	default:
		src = secret.NewFileSource()
	}

	cert, err := secret.LoadTLSCertificate(context.Background(), src, input.TLSCertSecret, input.TLSKeySecret)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// newMetaStore builds the meta.Store backend: Redis when RedisHost is set
// (for multi-process deployments, matching internal/ratelimit's equivalent
// choice below), the in-memory ristretto-backed store otherwise.
func newMetaStore(input Input) (meta.Store, func()) {
	if input.RedisHost != "" {
		store := meta.NewRedis(meta.RedisConfig{Host: input.RedisHost, Port: input.RedisPort})
		return store, func() { _ = store.Close() }
	}

	store, err := meta.NewInMemory()
	if err != nil {
		log.Fatalf("Failed to initialize meta store: %v\n", err)
	}

	return store, store.Close
}

// newRateLimitStrategy mirrors newMetaStore's Redis-vs-in-memory choice for
// the rate limiter's own counter backend.
func newRateLimitStrategy(input Input) ratelimit.Strategy {
	if input.RedisHost != "" {
		client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", input.RedisHost, input.RedisPort)})
		return ratelimit.NewSortedSetCounterStrategy(client)
	}

	return ratelimit.NewInMemoryStrategy()
}
