package middlewares

import (
	"net/http"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/models"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/gin-gonic/gin"
)

// ClanScopeMiddleware resolves the session user into the request context:
// clan id, user id, display name and the admin flag. Every handler below
// this middleware can rely on utils.GetClanIdFromContext.
//
// Requests without a session pass through untouched; handlers that need a
// clan scope reject them via models.HasPermission. A valid JWT bearer
// (service calls, see AuthMiddleware) resolves the user by id instead.
func ClanScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var user models.User
		resolved := false

		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			claim := CtxValue(ctx)
			if claim == nil {
				c.Next()
				return
			}
			db := config.GetDB()
			if db == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
				c.Abort()
				return
			}
			if err := db.WithContext(ctx).Model(&models.User{}).Where("id = ?", claim.ID).Take(&user).Error; err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			ctx = utils.SetUsernameInContext(ctx, user.Username)
			resolved = true
		}

		if !resolved {
			exists, err := config.GetRedisObject("User:"+username, &user)
			if err != nil || !exists {
				db := config.GetDB()
				if db == nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
					c.Abort()
					return
				}
				if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Take(&user).Error; err != nil {
					c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
					c.Abort()
					return
				}
				_ = config.SetRedisObject("User:"+username, &user, utils.GetCacheLifespan())
			}
		}

		isAdmin := user.Role == models.UserRoleAdmin

		// Admins may act on another clan by passing x-clan-id explicitly.
		clanId := user.ClanId
		if isAdmin {
			if override := c.Request.Header.Get("x-clan-id"); override != "" {
				clanId = override
			}
		}

		ctx = utils.SetClanIdInContext(ctx, clanId)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetIsAdminInContext(ctx, isAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
