// seed-admin creates or updates the platform admin user (username: chillerAdmin).
// Admin users have role_id = 0 and role = 'A'; the backend returns role "Admin" for login.
//
// If no clan exists yet and CLAN_NAME + CLAN_EMAIL are set, a clan is
// bootstrapped first (modules, owner role and owner user included).
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/models"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "chillerAdmin"
	adminName     = "ChillerPage Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminPassword == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	// History hooks require clan + user info in context. Attach the first
	// clan in the DB, bootstrapping one when nothing exists yet.
	var clan models.Clan
	err := db.WithContext(ctx).Model(&models.Clan{}).Select("id").First(&clan).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup clan: %v\n", err)
			os.Exit(1)
		}
		clanName := os.Getenv("CLAN_NAME")
		clanEmail := os.Getenv("CLAN_EMAIL")
		if clanName == "" || clanEmail == "" {
			fmt.Fprintln(os.Stderr, "no clans found in DB. Set CLAN_NAME and CLAN_EMAIL to bootstrap one, then rerun seed-admin.")
			os.Exit(2)
		}
		seedCtx := utils.SetUserIdInContext(ctx, 1)
		seedCtx = utils.SetUserNameInContext(seedCtx, "Seed")
		created, err := models.CreateClan(seedCtx, &models.NewClan{
			Name:  clanName,
			Email: clanEmail,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to bootstrap clan: %v\n", err)
			os.Exit(1)
		}
		clan = *created
		fmt.Printf("Bootstrapped clan: name=%q id=%s\n", clanName, clan.ID)
	}

	clanId := clan.ID.String()
	ctx = utils.SetClanIdInContext(ctx, clanId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: adminUsername,
			Name:     adminName,
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			RoleId:   0,
			Role:     models.UserRoleAdmin,
			ClanId:   clanId,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role_id=0, role=Admin)\n", adminUsername)
		return
	}

	// Ensure password and admin role on the existing user.
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":  hashedStr,
		"name":      adminName,
		"is_active": utils.NewTrue(),
		"clan_id":   clanId,
		"role_id":   0,
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role_id=0, role=Admin)\n", adminUsername)
}
