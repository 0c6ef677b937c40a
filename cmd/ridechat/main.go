package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"ridechat/pkg/archive"
	"ridechat/pkg/backend"
	"ridechat/pkg/banner"
	"ridechat/pkg/channel"
	"ridechat/pkg/config"
	"ridechat/pkg/gateway"
	"ridechat/pkg/identity"
	"ridechat/pkg/logger"
	"ridechat/pkg/retention"
	"ridechat/pkg/session"
	"ridechat/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Resolve config path (file flag wins over env)
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		shutdown.Abort("load config", err, "", 0)
	}
	// Flags win over env and config file for the listen address.
	if setFlags["addr"] {
		if host, port, ok := strings.Cut(addrVal, ":"); ok {
			cfg.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = p
			}
		}
	}
	logger.Init(cfg.Logging.Level)

	token, err := cfg.Token()
	if err != nil {
		shutdown.Abort("resolve backend token", err, cfg.Archive.Path, 0)
	}
	userID, err := identity.Resolve(token)
	if err != nil {
		shutdown.Abort("resolve identity from token", err, cfg.Archive.Path, 0)
	}

	var arc *archive.Archive
	if cfg.Archive.Enabled {
		arc, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			shutdown.Abort("open archive", err, cfg.Archive.Path, 0)
		}
		defer arc.Close()
	}

	var ch channel.Channel
	switch cfg.Channel.Transport {
	case "nats":
		ch, err = channel.DialNATS(cfg.Channel.NATS.URL, cfg.Channel.NATS.Stream, cfg.Channel.NATS.SubjectPrefix)
	default:
		ch, err = channel.DialWebSocket(cfg.Backend.WSURL, token)
	}
	if err != nil {
		shutdown.Abort("dial channel", err, cfg.Archive.Path, 0)
	}

	api := backend.New(cfg.Backend.BaseURL, token, cfg.Backend.Timeout.Duration())
	st := session.NewState()
	st.SetIdentity(userID)
	sess := session.New(api, ch, st, session.Options{
		Conversation: cfg.Chat.Conversation,
		RideID:       cfg.Chat.RideID,
		Peer:         cfg.Chat.Peer,
		SendRPS:      cfg.RateLimit.RPS,
		SendBurst:    cfg.RateLimit.Burst,
		Archive:      arc,
	})

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := sess.Start(startCtx); err != nil {
		startCancel()
		shutdown.Abort("start session", err, cfg.Archive.Path, 0)
	}
	startCancel()
	defer sess.Close()

	if cfg.Retention.Enabled && arc != nil {
		stopRetention, err := retention.Start(ctx, cfg.Retention, arc)
		if err != nil {
			shutdown.Abort("start retention", err, cfg.Archive.Path, 0)
		}
		defer stopRetention()
	}

	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.Print(cfg, strings.Join(srcs, ", "), verStr)

	r := mux.NewRouter()
	r.Use(requestLogging)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	gateway.New(sess).Register(r.PathPrefix("/v1").Subrouter())
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: r}
	go func() {
		<-ctx.Done()
		shctx, shcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shcancel()
		_ = srv.Shutdown(shctx)
	}()

	logger.Info("server_listening", "addr", cfg.Server.Addr(), "user", userID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		shutdown.Abort("serve http", err, cfg.Archive.Path, 0)
	}
	logger.Info("server_stopped")
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}
