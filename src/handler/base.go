package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BaseHandler provides shared response helpers for the API handlers.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// ErrorResponse is the error envelope: {"detail": "..."}.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// SendError sends a standardized error response.
func (h *BaseHandler) SendError(c *gin.Context, status int, detail string) {
	c.JSON(status, ErrorResponse{Detail: detail})
}

// IntParam parses an integer path parameter.
func (h *BaseHandler) IntParam(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		h.SendError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return value, true
}

// BindJSON binds the request body, replying 400 on malformed input.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.SendError(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
