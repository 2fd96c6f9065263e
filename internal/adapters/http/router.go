package http

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/adapters/signal"
	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/config"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Config   *config.Config
	Orch     *orch.Orchestrator
	Signal   *signal.Server
	Pool     *app.WorkerPool
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("GospaceSessions", store))
	r.Use(ClientTokenMiddleware())

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		alive := d.Pool.Alive()
		status := http.StatusOK
		state := "ok"
		if alive == 0 {
			status, state = http.StatusServiceUnavailable, "no workers"
		}
		c.JSON(status, gin.H{"status": state, "workers": alive})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		sess := sessions.Default(c)
		if sess.Get("client_token") == nil {
			sess.Set("client_token", c.GetString("client_token"))
			_ = sess.Save()
		}
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": d.Orch.Rooms()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		summary, err := d.Orch.Room(domain.RoomID(c.Param("id")))
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": domain.Code(err), "reason": err.Error()}})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": domain.Code(err), "reason": err.Error()}})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	return r
}
