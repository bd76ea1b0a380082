package router

import (
	"net/http"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mythweaver/internal/api"
	"mythweaver/internal/provider"
	"mythweaver/internal/relay"
)

// Deps 为nil的部分不挂载
type Deps struct {
	Relay        *relay.Relay
	RelayOptions relay.Options
	API          *api.Handler
	Tools        map[string]einotool.InvokableTool // 路径名 -> 工具，如 story-generate
}

// New 组装中转服务、会话接口和工具接口
func New(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Relay != nil {
		deps.Relay.Register(router, deps.RelayOptions)
	}
	if deps.API != nil {
		deps.API.Register(router)
	}
	for name, t := range deps.Tools {
		router.POST("/tools/"+name, handleTool(t))
	}
	return router
}

// handleTool 请求体原样作为工具参数
func handleTool(t einotool.InvokableTool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := t.InvokableRun(c.Request.Context(), string(body))
		if err != nil {
			logrus.WithError(err).WithField("path", c.FullPath()).Warn("工具执行失败")
			c.JSON(provider.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}
