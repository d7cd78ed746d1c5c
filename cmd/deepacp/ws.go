package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	wire "github.com/m4xw311/deepacp/acp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const wsPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newWSCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Serve the Agent Client Protocol over websockets",
		Long:  "Accept ACP clients on ws://<listen>" + wsPath + ". Every websocket is an independent ACP connection with its own sessions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx, func(ctx context.Context) error {
				g, ctx := errgroup.WithContext(ctx)
				h := newWSHandler(ctx, a)
				mux := http.NewServeMux()
				mux.Handle(wsPath, h)
				a.serveHTTP(ctx, g, &http.Server{Addr: v.GetString(keyListen), Handler: mux}, "ws")
				err := g.Wait()
				h.wait()
				return err
			})
		},
	}
	cmd.Flags().String(keyListen, ":8080", "Address to accept websocket clients on")
	return cmd
}

// wsHandler upgrades requests and serves each websocket with a fresh Server.
// Connections end when ctx is done.
type wsHandler struct {
	ctx    context.Context
	app    *app
	logger *zap.Logger
	conns  sync.WaitGroup
}

func newWSHandler(ctx context.Context, a *app) *wsHandler {
	return &wsHandler{ctx: ctx, app: a, logger: a.logger.With(zap.String("component", "ws"))}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	logger := h.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("client connected")
	transport := wire.NewWebSocketTransport(conn)
	defer transport.Close()

	if err := h.app.newServer().Serve(h.ctx, transport); err != nil {
		logger.Warn("connection ended with error", zap.Error(err))
		return
	}
	logger.Info("client disconnected")
}

// wait blocks until every served connection has returned.
func (h *wsHandler) wait() {
	h.conns.Wait()
}
