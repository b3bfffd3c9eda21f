package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api/handler"
	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/service"
)

type Router struct {
	catalogHandler *handler.CatalogHandler
	billingHandler *handler.BillingHandler
	usageHandler   *handler.UsageHandler
	walletHandler  *handler.WalletHandler
	notifyHandler  *handler.NotificationHandler
	usageService   *service.UsageService
	metrics        *metrics.Metrics
	cfg            *config.Config
}

func NewRouter(
	catalogHandler *handler.CatalogHandler,
	billingHandler *handler.BillingHandler,
	usageHandler *handler.UsageHandler,
	walletHandler *handler.WalletHandler,
	notifyHandler *handler.NotificationHandler,
	usageService *service.UsageService,
	m *metrics.Metrics,
	cfg *config.Config,
) *Router {
	return &Router{
		catalogHandler: catalogHandler,
		billingHandler: billingHandler,
		usageHandler:   usageHandler,
		walletHandler:  walletHandler,
		notifyHandler:  notifyHandler,
		usageService:   usageService,
		metrics:        m,
		cfg:            cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.metrics))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/metrics", r.metrics.Handler())

	api := engine.Group("/api/v1")
	{
		// 公开接口 - 目录
		api.GET("/catalog", r.catalogHandler.List)

		// WebSocket 通知，token 通过 query 传递
		api.GET("/ws", r.notifyHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 购买
			billing := authenticated.Group("/billing")
			{
				billing.POST("/quote", r.billingHandler.Quote)
				billing.POST("/coupons/preview", r.billingHandler.PreviewCoupon)
				billing.POST("/checkout", r.billingHandler.Checkout)
				billing.POST("/verify", r.billingHandler.Verify)
				billing.POST("/free-trial", r.billingHandler.FreeTrial)
				billing.GET("/transactions", r.billingHandler.ListTransactions)
				billing.GET("/transactions/:id", r.billingHandler.GetTransaction)
				billing.POST("/transactions/:id/order", r.billingHandler.RetryOrder)
				billing.POST("/transactions/:id/cancel", r.billingHandler.Cancel)
			}

			// 权益
			usage := authenticated.Group("/usage")
			{
				usage.GET("", r.usageHandler.Summary)
				usage.POST("/consume", r.usageHandler.Consume)
			}

			// 功能入口，先扣减权益
			features := authenticated.Group("/features")
			{
				features.POST("/optimization", middleware.RequireEntitlement(r.usageService, model.KindOptimization), r.usageHandler.Granted)
				features.POST("/score-check", middleware.RequireEntitlement(r.usageService, model.KindScoreCheck), r.usageHandler.Granted)
				features.POST("/linkedin-message", middleware.RequireEntitlement(r.usageService, model.KindLinkedInMessage), r.usageHandler.Granted)
				features.POST("/guided-build", middleware.RequireEntitlement(r.usageService, model.KindGuidedBuild), r.usageHandler.Granted)
			}

			// 钱包
			wallet := authenticated.Group("/wallet")
			{
				wallet.GET("", r.walletHandler.Balance)
				wallet.GET("/transactions", r.walletHandler.List)
			}
		}
	}

	return engine
}
