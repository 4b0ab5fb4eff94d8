package live

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server serves live snapshots over HTTP for external pollers.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// NewServer builds the poll endpoint on addr (e.g. ":9464").
func NewServer(addr string, pub *Publisher, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/v1/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, pub.Current())
	})

	return &Server{
		srv: &http.Server{Addr: addr, Handler: router},
		log: log.WithField("component", "live"),
	}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("live metrics server failed")
		}
	}()
	s.log.WithField("addr", s.srv.Addr).Info("live metrics endpoint listening")
}

// Stop shuts the endpoint down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
