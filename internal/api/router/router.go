package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"cvmatch-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

const healthPath = "/api/v1/health"

var errInvalidAPIKey = errors.New("API Key 无效")

// RegisterRoutes 注册 API 路由。apiKeys 非空时 /api/v1 需要 Bearer API Key，健康检查除外
func RegisterRoutes(h *server.Hertz, mh *handler.MatchHandler, apiKeys []string) {
	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		api.Use(APIKeyAuth(apiKeys))
	}

	api.POST("/match", mh.HandleMatch)
	api.POST("/score", mh.HandleScore)
	api.POST("/equivalence", mh.HandleEquivalence)
	api.POST("/suggestions", mh.HandleSuggestions)
	api.POST("/education/normalize", mh.HandleEducation)
	api.GET("/profiles", mh.HandleProfiles)

	// 添加健康检查
	api.GET("/health", mh.HandleHealth)
}

// APIKeyAuth 基于 keyauth 的 Bearer Token 校验
func APIKeyAuth(apiKeys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithFilter(func(ctx context.Context, c *app.RequestContext) bool {
			return strings.HasPrefix(string(c.Path()), healthPath)
		}),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			for _, k := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "未授权", "detail": err.Error()})
		}),
	)
}
