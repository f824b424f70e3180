package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"gorm.io/gorm"
)

var ErrorPermissionDenied = errors.New("permission denied")

// retrieve user from redis or db
func getUser(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}

	if !exists {

		db := config.GetDB()
		if err := db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error; err != nil {
			return nil, err
		}

		token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
		if err != nil {
			return nil, err
		}

		if err := config.SetRedisObject("User:"+user.Username, &user, time.Duration(token_lifespan)*time.Hour); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

// retrieve "Module|action" permission map for role, redis or db
func getAllowedActions(ctx context.Context, roleId int) (map[string]bool, error) {
	var allowed map[string]bool
	exists, err := config.GetRedisObject("AllowedActions:Role:"+fmt.Sprint(roleId), &allowed)
	if err != nil {
		return nil, err
	}

	if !exists {

		db := config.GetDB()
		var role Role
		if err := db.WithContext(ctx).Preload("RoleModules").Preload("RoleModules.Module").
			Where("id = ?", roleId).First(&role).Error; err != nil {
			return nil, err
		}

		allowed = make(map[string]bool)
		for _, permission := range role.RoleModules {
			validActions := extractModuleActions(permission.Module.Actions)
			grantedActions := extractModuleActions(permission.AllowedActions)
			for _, action := range grantedActions {
				// grants outside the module's action list are ignored
				if slices.Contains(validActions, action) {
					allowed[permission.Module.Name+"|"+action] = true
				}
			}
		}

		// store in redis
		if err := config.SetRedisObject("AllowedActions:Role:"+fmt.Sprint(roleId), &allowed, 0); err != nil {
			return nil, err
		}
	}
	return allowed, nil
}

// HasPermission checks whether the session user may perform action on module
// (e.g. "ChestData", "import"). Admin users bypass role checks.
func HasPermission(ctx context.Context, module string, action string) error {

	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return ErrorPermissionDenied
	}

	user, err := getUser(ctx, username)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// destroy current session if user has been deleted
			Logout(ctx)
		}
		return ErrorPermissionDenied
	}
	if !*user.IsActive {
		return errors.New("user is disabled")
	}

	if user.Role == UserRoleAdmin {
		return nil
	}

	allowed, err := getAllowedActions(ctx, user.RoleId)
	if err != nil {
		return err
	}
	if !allowed[module+"|"+strings.ToLower(action)] {
		return ErrorPermissionDenied
	}
	return nil
}
