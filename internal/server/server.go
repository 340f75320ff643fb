package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/internal/chat"
	"github.com/leighmacdonald/gbans-sub003/internal/queue"
	"github.com/leighmacdonald/gbans-sub003/internal/server/middleware"
	"github.com/leighmacdonald/gbans-sub003/pkg/config"
	"github.com/leighmacdonald/gbans-sub003/pkg/state"
	"github.com/leighmacdonald/gbans-sub003/pkg/state/statemanager"
	"github.com/leighmacdonald/gbans-sub003/pkg/transport"
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// historyReplay bounds the batch of retained messages sent to a fresh client.
const historyReplay = 100

type App struct {
	logger   *slog.Logger
	sessions state.Manager
	queue    *queue.Store
	chatLog  *chat.Log
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	sessions := statemanager.NewInMemoryManager(logger)

	directory := make(queue.StaticDirectory, len(cfg.Queue.Servers))
	for _, srv := range cfg.Queue.Servers {
		directory[srv.ID] = wire.GameServer{
			Name:           srv.Name,
			ShortName:      srv.ShortName,
			CC:             srv.CC,
			ConnectURL:     srv.ConnectURL,
			ConnectCommand: srv.ConnectCommand,
		}
	}

	app := &App{
		logger:   logger,
		sessions: sessions,
		queue:    queue.NewStore(logger, queue.ThresholdPolicy{Size: cfg.Queue.LobbySize}, directory),
		chatLog:  chat.NewLog(logger, cfg.Chat.HistoryLimit),
		config:   cfg,
		ctx:      rootCtx,
	}

	connCycler := func(steamID string) {
		oldest, found := sessions.FindOldestUserConnection(steamID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("steamID", steamID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewTokenAuth(logger, cfg.Server.Auth.TokenSecret),
			middleware.NewConnectionLimiter(
				logger,
				sessions.GetUserConnectionCount,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
		BaseContext: func(l net.Listener) context.Context {
			return rootCtx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("steamID", reqMeta.Identity.SteamID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.logger,
	)

	stateConn, err := a.sessions.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	if _, err := a.sessions.AssociateUser(stateConn.ID, reqMeta.Identity); err != nil {
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.handleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Debug("Deregistering connection due to closure", slog.String("connID", id.String()))
		if dErr := a.sessions.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
		// A disconnect is an implicit Leave from every queue.
		if a.queue.Drop(id) {
			a.broadcastStateUpdate(true, true)
		}
	})

	connLogger.Info("User connection established")
	conn.Run()
	a.greet(stateConn)
	<-conn.Done()
}

// greet sends the initial state to a freshly connected client: the full
// queue/lobby snapshot, its chat status if restricted, and a replay of
// recent history unless the user has no chat access.
func (a *App) greet(conn *state.Connection) {
	lobbies, users := a.queue.Snapshot()
	a.send(conn.Transport, wire.MustNew(wire.OpStateUpdate, wire.StateUpdatePayload{
		UpdateUsers:   true,
		UpdateServers: true,
		Lobbies:       lobbies,
		Users:         users,
	}))

	status, reason := a.chatLog.Status(conn.User.SteamID)
	if status != wire.StatusReadwrite {
		a.send(conn.Transport, wire.MustNew(wire.OpChatStatusChange, wire.ChatStatusChangePayload{
			Status: status,
			Reason: reason,
		}))
	}
	if status == wire.StatusNoaccess {
		return
	}

	if history := a.chatLog.History(historyReplay); len(history) > 0 {
		a.send(conn.Transport, wire.MustNew(wire.OpMessage, wire.MessagePayload{Messages: history}))
	}
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Tell peers this is a graceful close, then drop every connection. The
	// flush in CloseGraceful is what gets the Bye onto the wire: a plain
	// Close would cancel the writePump before it drains the frame.
	a.logger.Info("Closing all active connections...")
	bye := wire.MustNew(wire.OpBye, nil)
	var closers sync.WaitGroup
	for _, sess := range a.sessions.GetAllSessions() {
		closers.Add(1)
		go func(conn *transport.Connection) {
			defer closers.Done()
			a.send(conn, bye)
			conn.CloseGraceful(2 * time.Second)
		}(sess.Transport)
	}
	closers.Wait()

	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
