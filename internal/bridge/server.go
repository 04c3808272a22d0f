package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"pushgate/internal/notification"
	"pushgate/internal/presenter"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

type Deps struct {
	Service    notification.Service
	Tabs       *scriptevents.TabDirectory
	Sink       *scriptevents.BusSink
	Presenters *presenter.Host
	Log        logx.Logger
	// EventBuffer sizes each /v1/events stream.
	EventBuffer int
}

type Server struct {
	svc        notification.Service
	tabs       *scriptevents.TabDirectory
	sink       *scriptevents.BusSink
	presenters *presenter.Host
	log        logx.Logger
	buffer     int

	engine *gin.Engine
}

func New(deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Tabs == nil {
		deps.Tabs = scriptevents.NewTabDirectory()
	}
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = 64
	}
	s := &Server{
		svc:        deps.Service,
		tabs:       deps.Tabs,
		sink:       deps.Sink,
		presenters: deps.Presenters,
		log:        deps.Log,
		buffer:     deps.EventBuffer,
	}
	engine := gin.New()
	engine.Use(s.recovery(), s.accessLog())
	s.engine = engine
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on socketPath until ctx is done. A stale socket file is
// replaced; the socket is only accessible to the owner.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if socketPath == "" {
		return errors.New("bridge: socket path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return err
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bridge: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("bridge: listen: %w", err)
	}
	defer os.Remove(socketPath)
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("bridge: chmod socket: %w", err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("bridge listening", logx.String("socket", socketPath))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			// Event streams never finish on their own.
			_ = srv.Close()
		}
		<-errCh
		s.log.Info("bridge stopped")
		return nil
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("bridge handler panicked",
					logx.String("method", c.Request.Method),
					logx.String("path", c.Request.URL.Path),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				abort(c, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("bridge request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}
