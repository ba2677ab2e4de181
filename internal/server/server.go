package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hitomi/internal/api"
	"hitomi/internal/camera"
	"hitomi/internal/config"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	service    camera.Service
	engine     *gin.Engine
	httpServer *http.Server

	// 全リクエストのコンテキストの親。シャットダウン時にキャンセルして配信を終わらせる
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, service camera.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     logger,
		service:    service,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.engine = s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.baseCtx
		},
	}

	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() *gin.Engine {
	engine := gin.New()
	engine.Use(
		requestID(),
		accessLog(s.logger),
		recovery(s.logger),
		corsMiddleware(s.config.Server.CORSOrigins),
	)

	handler := NewHandler(s.service, s.config.StreamOptions(), s.logger)

	// ルートハンドラ（ブラウザ確認用）
	engine.GET("/", handler.handleRoot)

	api.RegisterHandlersWithOptions(engine, handler, api.GinServerOptions{
		Middlewares:  []api.MiddlewareFunc{requireDevice(s.service)},
		ErrorHandler: bindError,
	})

	return engine
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で接続を受け付け、ctx の終了かシグナルでシャットダウンする
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.String("signal", sig.String()))
	case err := <-shutdownCh:
		s.closeDevice()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 配信中のセッションを終わらせてから接続の終了を待ち、最後にデバイスを解放する
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	s.cancelBase()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.closeDevice()
	if err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// closeDevice はデバイスを解放する
func (s *Server) closeDevice() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.service.Close(ctx); err != nil {
		s.logger.Warn("デバイスの解放に失敗", zap.Error(err))
	}
}
