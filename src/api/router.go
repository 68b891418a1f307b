package api

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/handler"
	"github.com/Antony-Jia/codex-terminal-manage/src/handler/session"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

// SetupRouter configures all routes of the terminal manage API.
// If disableRequestLogging is true, the logrus middleware is skipped.
func SetupRouter(manager *session.Manager, st *store.Store, disableRequestLogging bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	if !disableRequestLogging {
		r.Use(logrusMiddleware())
	}

	profileHandler := handler.NewProfileHandler(st)
	sessionHandler := handler.NewSessionHandler(manager, st)
	socketHandler := handler.NewSocketHandler(manager)
	consoleHandler := handler.NewConsoleHandler()

	r.GET("/health", sessionHandler.HandleHealth)

	// Profile CRUD
	r.GET("/profiles", profileHandler.HandleList)
	r.POST("/profiles", profileHandler.HandleCreate)
	r.PUT("/profiles/:id", profileHandler.HandleUpdate)
	r.DELETE("/profiles/:id", profileHandler.HandleDelete)

	// Session lifecycle
	r.POST("/sessions", sessionHandler.HandleCreate)
	r.GET("/sessions", sessionHandler.HandleList)
	r.DELETE("/sessions/:id", sessionHandler.HandleDelete)

	// Logs and working-tree overview
	r.GET("/logs/:id", sessionHandler.HandleGetLog)
	r.GET("/git_changes/:id", sessionHandler.HandleGitChanges)

	// Terminal attachment
	r.GET("/ws/sessions/:id", socketHandler.HandleSessionWS)
	r.GET("/console/:id", consoleHandler.HandleConsolePage)
	r.GET("/console", consoleHandler.HandleConsolePage)

	return r
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware prevents intermediaries from caching API responses.
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		c.Next()
	}
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		if len(c.Errors) > 0 {
			logrus.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		msg := fmt.Sprintf("%s %s %d %d %dms", c.Request.Method, path, statusCode, dataLength, latency)
		if statusCode >= http.StatusBadRequest {
			logrus.Error(msg)
		} else {
			logrus.Info(msg)
		}
	}
}
