package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/handler"
	"github.com/dushixiang/pika-relay/internal/pipeline"
	"github.com/dushixiang/pika-relay/pkg/collector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Run 启动管道与 HTTP 服务，阻塞到 ctx 结束或 HTTP 服务出错
func Run(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	b, err := broker.Open(cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer func() {
		_ = b.Close()
	}()

	source := collector.NewSystemCollector(cfg.Sampler.DiskPath, cfg.Sampler.CPUWindow)
	p := pipeline.New(logger, cfg, b, source)
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	e := handler.NewRouter(logger,
		handler.NewMetricHandler(logger, p.Metrics),
		handler.NewWebSocketHandler(logger, p.Manager, cfg.Server.AllowedOrigins),
		p.Stats,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP 服务已启动", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("HTTP 服务已停止")
	return err
}
