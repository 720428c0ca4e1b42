package handler

import (
	"strconv"

	"mediacredits/internal/service"
	"mediacredits/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 转盘相关接口
// ============================================================

// GetWheelConfig 当前转盘配置及生效概率
// GET /api/v1/wheel/config
func (h *Handler) GetWheelConfig(c *gin.Context) {
	view, err := h.wheelService.GetWheelConfig(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

// Spin 抽奖，同一用户按分钟限流
// POST /api/v1/wheel/spin
func (h *Handler) Spin(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if !h.spinLimiter.Allow(req.UserID) {
		response.BusinessError(c, response.CodeTooManyRequests, "抽奖太频繁，请稍后再试")
		return
	}

	result, err := h.wheelService.Spin(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// RecentSpins 用户最近的抽奖记录
// GET /api/v1/wheel/spins?user_id=xxx&limit=20
func (h *Handler) RecentSpins(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	spins, err := h.wheelService.RecentSpins(c.Request.Context(), userID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": spins})
}

// SetWheelConfig 管理员整体替换转盘配置
// PUT /api/v1/admin/wheel/config
func (h *Handler) SetWheelConfig(c *gin.Context) {
	var req service.SetWheelConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	view, err := h.wheelService.SetWheelConfig(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, view)
}

// WheelStats 各奖项中奖统计
// GET /api/v1/admin/wheel/stats
func (h *Handler) WheelStats(c *gin.Context) {
	stats, err := h.wheelService.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": stats})
}

// ============================================================
// 邀请码
// ============================================================

// BuyInviteCode 购买邀请码
// POST /api/v1/invite/buy
func (h *Handler) BuyInviteCode(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	code, err := h.inviteService.BuyInviteCode(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, code)
}

// RedeemInviteRequest 兑换邀请码
type RedeemInviteRequest struct {
	Code   string `json:"code" binding:"required"`
	UserID int64  `json:"user_id" binding:"required"`
}

// RedeemInviteCode 兑换邀请码，同一用户重复兑换返回成功
// POST /api/v1/invite/redeem
func (h *Handler) RedeemInviteCode(c *gin.Context) {
	var req RedeemInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	code, err := h.inviteService.RedeemInviteCode(c.Request.Context(), req.Code, req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, code)
}

// ListInviteCodes 用户持有的邀请码
// GET /api/v1/invite/list?user_id=xxx
func (h *Handler) ListInviteCodes(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	codes, err := h.inviteService.ListInviteCodes(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": codes})
}

// ============================================================
// 管理员：流量
// ============================================================

// RecordUsage 上报一条流量记录
// POST /api/v1/admin/traffic/usage
func (h *Handler) RecordUsage(c *gin.Context) {
	var req service.UsageRecord
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.trafficService.RecordUsage(c.Request.Context(), &req); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已记录"})
}

// BillTrafficRequest user_id 为 0 时对当天所有用户计费
type BillTrafficRequest struct {
	UserID int64  `json:"user_id"`
	Date   string `json:"date" binding:"required"`
}

// BillTraffic 手动触发流量计费，已计费的用户不会重复扣
// POST /api/v1/admin/traffic/bill
func (h *Handler) BillTraffic(c *gin.Context) {
	var req BillTrafficRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if req.UserID != 0 {
		result, err := h.trafficService.BillDay(c.Request.Context(), req.UserID, req.Date)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, result)
		return
	}

	report, err := h.trafficService.BillAll(c.Request.Context(), req.Date)
	if err != nil {
		handleError(c, err)
		return
	}
	data := gin.H{"report": report}
	if report.Err != nil {
		data["errors"] = report.Err.Error()
	}
	response.Success(c, data)
}
