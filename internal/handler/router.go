package handler

import (
	"mediacredits/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(s *Services, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(s, cfg.Wheel.SpinRatePerMinute)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户 / 流水
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/detail", h.GetAccount)
			account.POST("/bind", h.BindAccount)
			account.POST("/transfer", h.Transfer)
			account.GET("/transactions", h.ListTransactions)
		}

		// 媒体库权限 / 高级会员
		access := api.Group("/access")
		{
			access.POST("/unlock", h.Unlock)
			access.POST("/lock", h.Lock)
			access.POST("/premium", h.BuyPremium)
		}

		// 拍卖
		auction := api.Group("/auction")
		{
			auction.GET("/active", h.ListActiveAuctions)
			auction.GET("/history", h.GetAuctionHistory)
			auction.GET("/detail", h.GetAuction)
			auction.POST("/bid", h.PlaceBid)
		}

		// 转盘
		wheel := api.Group("/wheel")
		{
			wheel.GET("/config", h.GetWheelConfig)
			wheel.POST("/spin", h.Spin)
			wheel.GET("/spins", h.RecentSpins)
		}

		// 邀请码
		invite := api.Group("/invite")
		{
			invite.POST("/buy", h.BuyInviteCode)
			invite.POST("/redeem", h.RedeemInviteCode)
			invite.GET("/list", h.ListInviteCodes)
		}

		// 管理员接口
		admin := api.Group("/admin", AdminAuthMiddleware(cfg.Admin.Token))
		{
			admin.POST("/account/adjust", h.AdjustCredits)
			admin.POST("/donation", h.RecordDonation)
			admin.POST("/auction/create", h.CreateAuction)
			admin.POST("/auction/finish", h.FinishAuction)
			admin.POST("/auction/settle", h.SettleAuction)
			admin.PUT("/wheel/config", h.SetWheelConfig)
			admin.GET("/wheel/stats", h.WheelStats)
			admin.POST("/traffic/usage", h.RecordUsage)
			admin.POST("/traffic/bill", h.BillTraffic)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
