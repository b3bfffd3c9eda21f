package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess              = 0
	CodeParamError           = 1000
	CodeAuthFailed           = 1001
	CodePermissionDenied     = 1002
	CodeResourceNotFound     = 1003
	CodeEntitlementExhausted = 1004
	CodeDuplicateAction      = 1005
	CodeNoSubscription       = 1006
	CodeCouponRejected       = 1007
	CodeGatewayError         = 1008
	CodePaymentProcessing    = 1009
	CodeServerError          = 5000
	CodeConfigError          = 5001
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:              "success",
	CodeParamError:           "参数错误",
	CodeAuthFailed:           "认证失败",
	CodePermissionDenied:     "权限不足",
	CodeResourceNotFound:     "资源不存在",
	CodeEntitlementExhausted: "权益已用完",
	CodeDuplicateAction:      "重复操作",
	CodeNoSubscription:       "没有有效的订阅",
	CodeCouponRejected:       "优惠码不可用",
	CodeGatewayError:         "支付网关异常",
	CodePaymentProcessing:    "支付已完成，权益发放处理中",
	CodeServerError:          "服务器内部错误",
	CodeConfigError:          "计费配置错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Reason 业务拒绝时返回给前端的原因
type Reason struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	Success(c, PageData{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带数据的错误响应；配置错误使用 HTTP 500，其余为 200
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	status := http.StatusOK
	if code == CodeConfigError {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

// PermissionError 权限不足
func PermissionError(c *gin.Context, message string) {
	Error(c, CodePermissionDenied, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// DuplicateError 重复操作
func DuplicateError(c *gin.Context, message string) {
	Error(c, CodeDuplicateAction, message)
}

// RejectError 带原因码的业务拒绝（额度用完、优惠码不可用等）
func RejectError(c *gin.Context, code int, reason string) {
	ErrorWithData(c, code, "", Reason{Reason: reason})
}

// GatewayError 网关错误，retryable 告诉前端是重试还是联系客服
func GatewayError(c *gin.Context, reason string, retryable bool) {
	ErrorWithData(c, CodeGatewayError, "", Reason{Reason: reason, Retryable: retryable})
}

// ConfigError 配置错误
func ConfigError(c *gin.Context) {
	Error(c, CodeConfigError, "")
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
