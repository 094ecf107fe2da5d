package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/config"
	"go.uber.org/zap"
)

// Config 运维服务器的监听与超时参数
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	// ShutdownTimeout 限制 Shutdown 等待在途请求的时间
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// ConfigFrom 从应用配置派生，零值超时保留默认
func ConfigFrom(cfg config.ServerConfig) Config {
	out := DefaultConfig()
	out.Addr = fmt.Sprintf(":%d", cfg.HTTPPort)
	for _, o := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&out.ReadTimeout, cfg.ReadTimeout},
		{&out.WriteTimeout, cfg.WriteTimeout},
		{&out.ShutdownTimeout, cfg.ShutdownTimeout},
	} {
		if o.src > 0 {
			*o.dst = o.src
		}
	}
	return out
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

// Manager 管理运维 HTTP 服务器：idle → serving → stopped，不可重启
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	mu    sync.RWMutex
	state state
	ln    net.Listener

	// done 在 Serve 返回后关闭，serveErr 为其非正常退出原因
	done     chan struct{}
	serveErr error
}

// NewManager 创建管理器，logger 为 nil 时静默
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg: cfg,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		logger: logger.With(zap.String("component", "ops_server")),
		done:   make(chan struct{}),
	}
}

// Start 绑定端口并在后台开始服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return errors.New("ops server already started")
	case stateStopped:
		return errors.New("ops server is closed")
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.state = stateServing
	m.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("ops server stopped serving", zap.Error(err))
			m.serveErr = err
		}
	}()
	return nil
}

// Shutdown 停止接收连接并等待在途请求，重复调用返回 nil
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateStopped {
		m.mu.Unlock()
		return nil
	}
	wasServing := m.state == stateServing
	m.state = stateStopped
	m.mu.Unlock()

	if !wasServing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("ops server shutdown incomplete", zap.Error(err))
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	<-m.done
	m.logger.Info("ops server stopped")
	return nil
}

// Wait 阻塞到 ctx 结束或服务异常退出，随后关闭并返回异常原因
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		m.logger.Info("ops server shutdown requested", zap.Error(context.Cause(ctx)))
	case <-m.done:
	}
	serveErr := m.Err()
	return errors.Join(serveErr, m.Shutdown(context.Background()))
}

// Done 在服务循环退出后关闭
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err 返回服务循环的异常退出原因，未退出或正常关闭时为 nil
func (m *Manager) Err() error {
	select {
	case <-m.done:
		return m.serveErr
	default:
		return nil
	}
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 仅在 serving 状态为 true
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateServing
}
