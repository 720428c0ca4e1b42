package handler

import (
	"mediacredits/internal/service"
	"mediacredits/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 拍卖相关接口
// ============================================================

// ListActiveAuctions 进行中的拍卖
// GET /api/v1/auction/active
func (h *Handler) ListActiveAuctions(c *gin.Context) {
	auctions, err := h.auctionService.ListActiveAuctions(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": auctions})
}

// GetAuctionHistory 已结算的拍卖
// GET /api/v1/auction/history?page=1&page_size=10
func (h *Handler) GetAuctionHistory(c *gin.Context) {
	page, pageSize := queryPage(c)

	auctions, total, err := h.auctionService.GetAuctionHistory(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, auctions, total, page, pageSize)
}

// GetAuction 拍卖详情，附带出价记录
// GET /api/v1/auction/detail?auction_id=xxx
func (h *Handler) GetAuction(c *gin.Context) {
	auctionID, ok := queryInt64(c, "auction_id")
	if !ok {
		return
	}

	auction, err := h.auctionService.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		handleError(c, err)
		return
	}
	bids, err := h.auctionService.ListBids(c.Request.Context(), auctionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"auction": auction,
		"bids":    bids,
	})
}

// PlaceBidRequest 出价请求
type PlaceBidRequest struct {
	AuctionID int64           `json:"auction_id" binding:"required"`
	UserID    int64           `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// PlaceBid 出价，出价时不冻结积分，结算时才扣
// POST /api/v1/auction/bid
func (h *Handler) PlaceBid(c *gin.Context) {
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	bid, err := h.auctionService.PlaceBid(c.Request.Context(), req.AuctionID, req.UserID, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, bid)
}

// CreateAuction 管理员创建拍卖
// POST /api/v1/admin/auction/create
func (h *Handler) CreateAuction(c *gin.Context) {
	var req service.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	auction, err := h.auctionService.CreateAuction(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, auction)
}

// AuctionIDRequest 指定拍卖
type AuctionIDRequest struct {
	AuctionID int64 `json:"auction_id" binding:"required"`
}

// FinishAuction 管理员立即结束拍卖并结算
// POST /api/v1/admin/auction/finish
func (h *Handler) FinishAuction(c *gin.Context) {
	var req AuctionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.auctionService.Finish(c.Request.Context(), req.AuctionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// SettleAuction 结算拍卖，重复调用返回同一结果
// POST /api/v1/admin/auction/settle
func (h *Handler) SettleAuction(c *gin.Context) {
	var req AuctionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.auctionService.Settle(c.Request.Context(), req.AuctionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
