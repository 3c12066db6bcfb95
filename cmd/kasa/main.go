package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/classify"
	"github.com/nukleo/kasa/internal/config"
	"github.com/nukleo/kasa/internal/control"
	"github.com/nukleo/kasa/internal/engine"
	"github.com/nukleo/kasa/internal/lifecycle"
	"github.com/nukleo/kasa/internal/origin"
	"github.com/nukleo/kasa/internal/precache"
)

const methodPurge = "PURGE"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Fatal(err)
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		log.Fatal(err)
	}

	originClient := origin.NewClient(cfg.OriginBaseURL)
	rules := classify.Rules{
		APIPrefixes:    []string{cfg.APIPrefix},
		AdminPrefixes:  []string{cfg.AdminPrefix},
		FontHosts:      cfg.FontHosts,
		StaticSuffixes: classify.DefaultRules().StaticSuffixes,
		AssetPrefixes:  classify.DefaultRules().AssetPrefixes,
	}

	reg := engine.NewRegistration(store, rules, originClient, cfg.ShellPath, cfg.Verbose)
	handler, err := engine.NewHandler(reg)
	if err != nil {
		log.Fatal(err)
	}

	controller := &lifecycle.Controller{
		Store:   store,
		Version: cfg.CacheVersion,
		MaxAge:  cfg.MaxAge(),
		Loader: &precache.Loader{
			Origin: originClient,
			Assets: manifest.Assets,
		},
		Registration: reg,
		Verbose:      cfg.Verbose,
	}
	go controller.Run(context.Background())

	purgeHandler := &control.Handler{
		Registration: reg,
		Verbose:      cfg.Verbose,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if controller.State() != lifecycle.StateActive {
			http.Error(w, controller.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/-/purge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != methodPurge {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		purgeHandler.ServeHTTP(w, r)
	})
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == methodPurge {
			purgeHandler.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	}))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("listening on %s (version %s, backend %s)", cfg.ListenAddr, cfg.CacheVersion, cfg.Backend)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func newStore(cfg config.Config) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisStore(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		return cache.NewS3Store(cfg.S3Bucket, client), nil
	default:
		db, err := leveldb.OpenFile(cfg.LevelDBPath, nil)
		if err != nil {
			return nil, err
		}
		return cache.NewLevelDBStore(db), nil
	}
}
