package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/importer"
	"bitbucket.org/chillercrew/chillerpage_backend/middlewares"
	"bitbucket.org/chillercrew/chillerpage_backend/models"
	"bitbucket.org/chillercrew/chillerpage_backend/models/reports"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"bitbucket.org/chillercrew/chillerpage_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = "8080"
const healthCheckPath = "/healthz"

var tracer trace.Tracer = otel.Tracer("chillerpage-backend")

// RateLimiter is a fixed window limiter keyed by client IP, backed by Redis
// so the limit holds across replicas.
type RateLimiter struct {
	WindowSeconds int
	MaxRequests   int64
}

func NewRateLimiter() *RateLimiter {
	windowSeconds := 60
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			windowSeconds = parsed
		}
	}
	maxRequests := int64(600)
	if v := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			maxRequests = parsed
		}
	}
	return &RateLimiter{WindowSeconds: windowSeconds, MaxRequests: maxRequests}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := config.GetRedisDB()
		if client == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := "RateLimit:" + c.ClientIP()

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble must not take requests down with it.
			c.Next()
			return
		}
		if count == 1 {
			client.Expire(ctx, key, time.Duration(rl.WindowSeconds)*time.Second)
		}
		if count > rl.MaxRequests {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("x-correlation-id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header("x-correlation-id", correlationId)
		c.Next()
	}
}

func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.End()
	}
}

// readinessMiddleware returns 503 until the database and Redis connections
// are up. The server starts listening before either connects, so the gate
// covers the startup window. The health check itself always answers.
func readinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == healthCheckPath {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, ginErr := range c.Errors {
			correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":          c.Request.URL.Path,
				"status":        c.Writer.Status(),
				"correlationId": correlationId,
			}).Error(ginErr.Error())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// bindJSON decodes the request body, answering 400 with per-field tags for
// binding validation failures.
func bindJSON(c *gin.Context, dest interface{}) bool {
	err := c.ShouldBindJSON(dest)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": utils.ProcessValidationErrors(validationErrors),
		})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return false
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, models.ErrorPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	case errors.Is(err, models.ErrorRuleOrderConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, importer.ErrorClanMismatch),
		errors.Is(err, importer.ErrorDuplicateEntries),
		errors.Is(err, importer.ErrorXlsxImportDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, importer.ErrorPersistenceFailure):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	_ = c.Error(err)
}

func requirePermission(c *gin.Context, module string, action string) bool {
	err := models.HasPermission(c.Request.Context(), module, action)
	if err == nil {
		return true
	}
	if errors.Is(err, models.ErrorPermissionDenied) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	} else {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	}
	_ = c.Error(err)
	return false
}

func requireAdmin(c *gin.Context) bool {
	isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context())
	if !ok || !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return false
	}
	return true
}

func requireSession(c *gin.Context) bool {
	if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

type idRequest struct {
	Id int `json:"id" binding:"required"`
}

type idsRequest struct {
	Ids []int `json:"ids" binding:"required"`
}

// ---- auth ----

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	info, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func logoutHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	ok, err := models.Logout(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func changePasswordHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// serviceTokenHandler issues a JWT for internal jobs that cannot hold a
// Redis session (see middlewares.AuthMiddleware).
func serviceTokenHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token, err := utils.JwtGenerate(userId, "Admin")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ---- chest data import ----

func chestDataPreviewHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "import") {
		return
	}
	var input importer.PreviewInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := importer.Preview(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// chestDataPreviewXlsxHandler accepts a base64 payload so spreadsheet
// uploads share the preview path with plain text.
func chestDataPreviewXlsxHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "import") {
		return
	}
	var req struct {
		Content  string `json:"content" binding:"required"`
		Filename string `json:"filename" binding:"required"`
		ClanId   string `json:"clan_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64 encoded"})
		return
	}
	rawText, err := importer.ExtractRawLines(req.Filename, strings.NewReader(string(data)))
	if err != nil {
		respondError(c, err)
		return
	}

	// archive the original upload; failures only log, the preview still runs
	if clanId, ok := utils.GetClanIdFromContext(c.Request.Context()); ok && clanId != "" {
		objectName := "imports/" + clanId + "/" + utils.GenerateUniqueFilename() + "_" + req.Filename
		if err := utils.UploadFileToGCS(c.Request.Context(), objectName, strings.NewReader(string(data))); err != nil {
			config.LogError(config.GetLogger(), "server", "chestDataPreviewXlsxHandler", "archive upload", map[string]interface{}{
				"clan_id":  clanId,
				"filename": req.Filename,
			}, err)
		}
	}

	result, err := importer.Preview(c.Request.Context(), &importer.PreviewInput{
		RawCsv:   rawText,
		Filename: req.Filename,
		ClanId:   req.ClanId,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func chestDataCommitHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "import") {
		return
	}
	var input importer.CommitInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := importer.Commit(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func chestDataListHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "read") {
		return
	}
	var req struct {
		Limit         *int    `json:"limit"`
		After         *string `json:"after"`
		Player        *string `json:"player"`
		ChestType     *string `json:"chest_type"`
		CollectedDate *string `json:"collected_date"`
		BatchId       *string `json:"batch_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	connection, err := models.PaginateChestData(c.Request.Context(),
		req.Limit, req.After, req.Player, req.ChestType, req.CollectedDate, req.BatchId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func chestDataGetHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "read") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := models.GetChestDataEntry(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func chestDataUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "update") {
		return
	}
	var req struct {
		Id    int                         `json:"id" binding:"required"`
		Input models.UpdateChestDataInput `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	entry, err := models.UpdateChestDataEntry(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func chestDataDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := models.DeleteChestDataEntry(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func chestDataBatchUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "update") {
		return
	}
	var req struct {
		Ids   []int                       `json:"ids" binding:"required"`
		Input models.UpdateChestDataInput `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	entries, err := models.BatchUpdateChestData(c.Request.Context(), req.Ids, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func chestDataBatchDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "delete") {
		return
	}
	var req idsRequest
	if !bindJSON(c, &req) {
		return
	}
	entries, err := models.BatchDeleteChestData(c.Request.Context(), req.Ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func chestDataRescoreHandler(c *gin.Context) {
	if !requirePermission(c, "ChestData", "rescore") {
		return
	}
	var req struct {
		EntryIds []int `json:"entry_ids" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	result, err := importer.Rescore(c.Request.Context(), req.EntryIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ---- rules ----

func validationRuleListHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "read") {
		return
	}
	rules, err := models.GetValidationRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func validationRuleCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "create") {
		return
	}
	var input models.NewValidationRule
	if !bindJSON(c, &input) {
		return
	}
	rule, err := models.CreateValidationRule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func validationRuleUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "update") {
		return
	}
	var req struct {
		Id    int                      `json:"id" binding:"required"`
		Input models.NewValidationRule `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.UpdateValidationRule(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func validationRuleDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.DeleteValidationRule(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func correctionRuleListHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "read") {
		return
	}
	rules, err := models.GetCorrectionRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func correctionRuleCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "create") {
		return
	}
	var input models.NewCorrectionRule
	if !bindJSON(c, &input) {
		return
	}
	rule, err := models.CreateCorrectionRule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func correctionRuleUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "update") {
		return
	}
	var req struct {
		Id    int                      `json:"id" binding:"required"`
		Input models.NewCorrectionRule `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.UpdateCorrectionRule(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func correctionRuleDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.DeleteCorrectionRule(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func scoringRuleListHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "read") {
		return
	}
	rules, err := models.GetScoringRules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func scoringRuleCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "create") {
		return
	}
	var input models.NewScoringRule
	if !bindJSON(c, &input) {
		return
	}
	rule, err := models.CreateScoringRule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func scoringRuleUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "update") {
		return
	}
	var req struct {
		Id    int                   `json:"id" binding:"required"`
		Input models.NewScoringRule `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.UpdateScoringRule(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func scoringRuleDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := models.DeleteScoringRule(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func scoringRuleReorderHandler(c *gin.Context) {
	if !requirePermission(c, "Rules", "reorder") {
		return
	}
	var req struct {
		OrderedIds []int `json:"ordered_ids" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rules, err := models.UpdateScoringRuleOrder(c.Request.Context(), req.OrderedIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// ---- history ----

func historyListHandler(c *gin.Context) {
	if !requirePermission(c, "History", "read") {
		return
	}
	var req struct {
		Limit         *int    `json:"limit"`
		After         *string `json:"after"`
		ReferenceType *string `json:"reference_type"`
		ReferenceId   *int    `json:"reference_id"`
		UserId        *int    `json:"user_id"`
		ActionType    *string `json:"action_type"`
	}
	if !bindJSON(c, &req) {
		return
	}
	connection, err := models.PaginateHistory(c.Request.Context(),
		req.Limit, req.After, req.ReferenceType, req.ReferenceId, req.UserId, req.ActionType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

// historyForReferenceHandler returns the full, unpaginated trail for one
// object (detail views show it inline).
func historyForReferenceHandler(c *gin.Context) {
	if !requirePermission(c, "History", "read") {
		return
	}
	var req struct {
		ReferenceType string `json:"reference_type" binding:"required"`
		ReferenceId   int    `json:"reference_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	histories, err := models.GetHistories(c.Request.Context(), &req.ReferenceId, &req.ReferenceType, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

// ---- members ----

func memberListHandler(c *gin.Context) {
	if !requirePermission(c, "Members", "read") {
		return
	}
	members, err := models.GetMembers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func memberGetHandler(c *gin.Context) {
	if !requirePermission(c, "Members", "read") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	member, err := models.GetMember(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func memberCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Members", "create") {
		return
	}
	var input models.NewMember
	if !bindJSON(c, &input) {
		return
	}
	member, err := models.CreateMember(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func memberUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Members", "update") {
		return
	}
	var req struct {
		Id    int              `json:"id" binding:"required"`
		Input models.NewMember `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	member, err := models.UpdateMember(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func memberDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Members", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	member, err := models.DeleteMember(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// ---- articles ----

func articleListHandler(c *gin.Context) {
	if !requirePermission(c, "Articles", "read") {
		return
	}
	var req struct {
		Limit         *int    `json:"limit"`
		After         *string `json:"after"`
		PublishedOnly bool    `json:"published_only"`
	}
	if !bindJSON(c, &req) {
		return
	}
	connection, err := models.PaginateArticles(c.Request.Context(), req.Limit, req.After, req.PublishedOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func articleGetHandler(c *gin.Context) {
	if !requirePermission(c, "Articles", "read") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	article, err := models.GetArticle(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func articleCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Articles", "create") {
		return
	}
	var input models.NewArticle
	if !bindJSON(c, &input) {
		return
	}
	article, err := models.CreateArticle(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func articleUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Articles", "update") {
		return
	}
	var req struct {
		Id    int               `json:"id" binding:"required"`
		Input models.NewArticle `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	article, err := models.UpdateArticle(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func articleDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Articles", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	article, err := models.DeleteArticle(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// ---- events ----

func eventListHandler(c *gin.Context) {
	if !requirePermission(c, "Events", "read") {
		return
	}
	var req struct {
		UpcomingOnly bool `json:"upcoming_only"`
	}
	if !bindJSON(c, &req) {
		return
	}
	events, err := models.GetEvents(c.Request.Context(), req.UpcomingOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func eventGetHandler(c *gin.Context) {
	if !requirePermission(c, "Events", "read") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	event, err := models.GetEvent(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func eventCreateHandler(c *gin.Context) {
	if !requirePermission(c, "Events", "create") {
		return
	}
	var input models.NewEvent
	if !bindJSON(c, &input) {
		return
	}
	event, err := models.CreateEvent(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func eventUpdateHandler(c *gin.Context) {
	if !requirePermission(c, "Events", "update") {
		return
	}
	var req struct {
		Id    int             `json:"id" binding:"required"`
		Input models.NewEvent `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	event, err := models.UpdateEvent(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func eventDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Events", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	event, err := models.DeleteEvent(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// ---- messages ----

func messageSendHandler(c *gin.Context) {
	if !requirePermission(c, "Messages", "create") {
		return
	}
	var input models.NewMessage
	if !bindJSON(c, &input) {
		return
	}
	message, err := models.SendMessage(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func messageListHandler(c *gin.Context) {
	if !requirePermission(c, "Messages", "read") {
		return
	}
	var req struct {
		Sent bool `json:"sent"`
	}
	if !bindJSON(c, &req) {
		return
	}
	messages, err := models.GetMessages(c.Request.Context(), req.Sent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func messageMarkReadHandler(c *gin.Context) {
	if !requirePermission(c, "Messages", "read") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	message, err := models.MarkMessageRead(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func messageDeleteHandler(c *gin.Context) {
	if !requirePermission(c, "Messages", "delete") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	message, err := models.DeleteMessage(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

// ---- notifications ----

func notificationListHandler(c *gin.Context) {
	if !requirePermission(c, "Notifications", "read") {
		return
	}
	var req struct {
		Limit      *int    `json:"limit"`
		After      *string `json:"after"`
		UnreadOnly bool    `json:"unread_only"`
	}
	if !bindJSON(c, &req) {
		return
	}
	connection, err := models.PaginateNotifications(c.Request.Context(), req.Limit, req.After, req.UnreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func notificationCountUnreadHandler(c *gin.Context) {
	if !requirePermission(c, "Notifications", "read") {
		return
	}
	count, err := models.CountUnreadNotifications(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func notificationMarkReadHandler(c *gin.Context) {
	if !requirePermission(c, "Notifications", "update") {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	notification, err := models.MarkNotificationRead(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, notification)
}

func notificationMarkAllReadHandler(c *gin.Context) {
	if !requirePermission(c, "Notifications", "update") {
		return
	}
	if err := models.MarkAllNotificationsRead(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---- clan and platform administration ----

func clanGetHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	clan, err := models.GetClan(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, clan)
}

func clanUpdateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req struct {
		Id    string         `json:"id" binding:"required"`
		Input models.NewClan `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	clan, err := models.UpdateClan(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, clan)
}

func clanCreateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewClan
	if !bindJSON(c, &input) {
		return
	}
	clan, err := models.CreateClan(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, clan)
}

func clanListHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	clans, err := models.GetAllClans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, clans)
}

func userListHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	users, err := models.GetAllUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func userGetHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := models.GetUser(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func userCreateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewUser
	if !bindJSON(c, &input) {
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func roleListHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	roles, err := models.GetRoles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func roleGetHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := models.GetRole(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func roleCreateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewRole
	if !bindJSON(c, &input) {
		return
	}
	role, err := models.CreateRole(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func roleUpdateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req struct {
		Id    int            `json:"id" binding:"required"`
		Input models.NewRole `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	role, err := models.UpdateRole(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func roleDeleteHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req idRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := models.DeleteRole(c.Request.Context(), req.Id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func roleModuleListHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	var req struct {
		RoleId *int `json:"role_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	roleModules, err := models.GetRoleModules(c.Request.Context(), req.RoleId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roleModules)
}

func roleModuleSaveHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewRoleModule
	if !bindJSON(c, &input) {
		return
	}
	roleModule, err := models.SaveRoleModule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roleModule)
}

func roleModuleDeleteHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewRoleModule
	if !bindJSON(c, &input) {
		return
	}
	roleModule, err := models.DeleteRoleModule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roleModule)
}

func moduleListHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	modules, err := models.GetModules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, modules)
}

func moduleCreateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var input models.NewModule
	if !bindJSON(c, &input) {
		return
	}
	module, err := models.CreateModule(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func moduleUpdateHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req struct {
		Id    int              `json:"id" binding:"required"`
		Input models.NewModule `json:"input" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	module, err := models.UpdateModule(c.Request.Context(), req.Id, &req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

// ---- uploads ----

func uploadImageHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	response, err := models.UploadSingleImage(c.Request.Context(), fileHeader.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func removeImageHandler(c *gin.Context) {
	if !requireSession(c) {
		return
	}
	var req struct {
		Url string `json:"url" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	response, err := models.RemoveImage(c.Request.Context(), req.Url)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// ---- reports ----

func leaderboardReportHandler(c *gin.Context) {
	if !requirePermission(c, "Reports", "read") {
		return
	}
	var req struct {
		FromDate string `json:"from_date" binding:"required"`
		ToDate   string `json:"to_date" binding:"required"`
		Export   bool   `json:"export"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rows, err := reports.GetChestLeaderboardReport(c.Request.Context(), req.FromDate, req.ToDate)
	if err != nil {
		respondError(c, err)
		return
	}
	response := gin.H{"rows": rows}
	if req.Export {
		downloadUrl, err := reports.ExportLeaderboard(c.Request.Context(), req.FromDate, req.ToDate)
		if err != nil {
			respondError(c, err)
			return
		}
		response["download_url"] = downloadUrl
	}
	c.JSON(http.StatusOK, response)
}

func chestTypeBreakdownReportHandler(c *gin.Context) {
	if !requirePermission(c, "Reports", "read") {
		return
	}
	var req struct {
		FromDate string `json:"from_date" binding:"required"`
		ToDate   string `json:"to_date" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rows, err := reports.GetChestTypeBreakdownReport(c.Request.Context(), req.FromDate, req.ToDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// ---- internal ops ----

func outboxReplayHandler(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req struct {
		ClanId string `json:"clan_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	clanId := req.ClanId
	if clanId == "" {
		clanId, _ = utils.GetClanIdFromContext(c.Request.Context())
	}
	if clanId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clan id is required"})
		return
	}
	replayed, err := workflow.ReplayDeadOutbox(c.Request.Context(), config.GetDB(), clanId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}

func registerRoutes(r *gin.Engine) {
	r.POST("/auth/login", loginHandler)
	r.POST("/auth/logout", logoutHandler)
	r.POST("/auth/change-password", changePasswordHandler)
	r.POST("/auth/service-token", serviceTokenHandler)

	r.POST("/chest-data/preview", chestDataPreviewHandler)
	r.POST("/chest-data/preview-xlsx", chestDataPreviewXlsxHandler)
	r.POST("/chest-data/commit", chestDataCommitHandler)
	r.POST("/chest-data/list", chestDataListHandler)
	r.POST("/chest-data/get", chestDataGetHandler)
	r.POST("/chest-data/update", chestDataUpdateHandler)
	r.POST("/chest-data/delete", chestDataDeleteHandler)
	r.POST("/chest-data/batch-update", chestDataBatchUpdateHandler)
	r.POST("/chest-data/batch-delete", chestDataBatchDeleteHandler)
	r.POST("/chest-data/rescore", chestDataRescoreHandler)

	r.POST("/rules/validation/list", validationRuleListHandler)
	r.POST("/rules/validation/create", validationRuleCreateHandler)
	r.POST("/rules/validation/update", validationRuleUpdateHandler)
	r.POST("/rules/validation/delete", validationRuleDeleteHandler)
	r.POST("/rules/correction/list", correctionRuleListHandler)
	r.POST("/rules/correction/create", correctionRuleCreateHandler)
	r.POST("/rules/correction/update", correctionRuleUpdateHandler)
	r.POST("/rules/correction/delete", correctionRuleDeleteHandler)
	r.POST("/rules/scoring/list", scoringRuleListHandler)
	r.POST("/rules/scoring/create", scoringRuleCreateHandler)
	r.POST("/rules/scoring/update", scoringRuleUpdateHandler)
	r.POST("/rules/scoring/delete", scoringRuleDeleteHandler)
	r.POST("/rules/scoring/reorder", scoringRuleReorderHandler)

	r.POST("/history/list", historyListHandler)
	r.POST("/history/for-reference", historyForReferenceHandler)

	r.POST("/members/list", memberListHandler)
	r.POST("/members/get", memberGetHandler)
	r.POST("/members/create", memberCreateHandler)
	r.POST("/members/update", memberUpdateHandler)
	r.POST("/members/delete", memberDeleteHandler)

	r.POST("/articles/list", articleListHandler)
	r.POST("/articles/get", articleGetHandler)
	r.POST("/articles/create", articleCreateHandler)
	r.POST("/articles/update", articleUpdateHandler)
	r.POST("/articles/delete", articleDeleteHandler)

	r.POST("/events/list", eventListHandler)
	r.POST("/events/get", eventGetHandler)
	r.POST("/events/create", eventCreateHandler)
	r.POST("/events/update", eventUpdateHandler)
	r.POST("/events/delete", eventDeleteHandler)

	r.POST("/messages/send", messageSendHandler)
	r.POST("/messages/list", messageListHandler)
	r.POST("/messages/mark-read", messageMarkReadHandler)
	r.POST("/messages/delete", messageDeleteHandler)

	r.POST("/notifications/list", notificationListHandler)
	r.POST("/notifications/count-unread", notificationCountUnreadHandler)
	r.POST("/notifications/mark-read", notificationMarkReadHandler)
	r.POST("/notifications/mark-all-read", notificationMarkAllReadHandler)

	r.POST("/clan/get", clanGetHandler)
	r.POST("/clan/update", clanUpdateHandler)
	r.POST("/clans/create", clanCreateHandler)
	r.POST("/clans/list", clanListHandler)

	r.POST("/users/list", userListHandler)
	r.POST("/users/get", userGetHandler)
	r.POST("/users/create", userCreateHandler)

	r.POST("/roles/list", roleListHandler)
	r.POST("/roles/get", roleGetHandler)
	r.POST("/roles/create", roleCreateHandler)
	r.POST("/roles/update", roleUpdateHandler)
	r.POST("/roles/delete", roleDeleteHandler)
	r.POST("/roles/modules/list", roleModuleListHandler)
	r.POST("/roles/modules/save", roleModuleSaveHandler)
	r.POST("/roles/modules/delete", roleModuleDeleteHandler)

	r.POST("/modules/list", moduleListHandler)
	r.POST("/modules/create", moduleCreateHandler)
	r.POST("/modules/update", moduleUpdateHandler)

	r.POST("/uploads/image", uploadImageHandler)
	r.POST("/uploads/image/remove", removeImageHandler)

	r.POST("/reports/chest-leaderboard", leaderboardReportHandler)
	r.POST("/reports/chest-type-breakdown", chestTypeBreakdownReportHandler)

	r.POST("/internal/ops/outbox/replay", outboxReplayHandler)

	r.NoRoute(customNotFoundHandler)
}

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(tracingMiddleware())
	r.Use(readinessMiddleware())

	if os.Getenv("GO_ENV") == "production" {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = utils.SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS"))
		corsConfig.AllowCredentials = true
		corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
		r.Use(cors.New(corsConfig))
	} else {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
		r.Use(cors.New(corsConfig))
	}

	if os.Getenv("RATE_LIMIT_ENABLED") == "true" {
		r.Use(NewRateLimiter().Middleware())
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.ClanScopeMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Listen before the backing services are up; the readiness gate keeps
	// traffic out until they connect.
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if os.Getenv("SKIP_MIGRATIONS") != "true" {
		models.MigrateTable()
	}

	// Imports rely on unique key collisions surfacing promptly; repeatable
	// read gap locking is not needed and only adds deadlocks.
	for attempt := 0; ; attempt++ {
		err := config.GetDB().Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		wait := time.Duration(1<<min(attempt, 5)) * time.Second
		if wait > 30*time.Second {
			wait = 30 * time.Second
		}
		logger.WithError(err).Warnf("failed to set isolation level, retrying in %s", wait)
		time.Sleep(wait)
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	go workflow.NewOutboxDispatcher(config.GetDB(), logger).Run(dispatcherCtx)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		cancelDispatcher()
		logger.WithError(err).Fatal("http server failed")
	}

	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}

	logger.Info("server stopped")
}
