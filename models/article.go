package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// Article is a clan announcement shown on the clan page.
type Article struct {
	ID          int        `gorm:"primary_key" json:"id"`
	ClanId      string     `gorm:"index;not null" json:"clan_id"`
	Title       string     `gorm:"size:255;not null" json:"title" binding:"required"`
	Body        string     `gorm:"type:text" json:"body"`
	CoverUrl    string     `json:"cover_url"`
	IsPinned    *bool      `gorm:"not null;default:false" json:"is_pinned"`
	IsPublished *bool      `gorm:"not null;default:false" json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	AuthorId    int        `gorm:"index;not null" json:"author_id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewArticle struct {
	Title       string `json:"title" binding:"required"`
	Body        string `json:"body"`
	CoverUrl    string `json:"cover_url"`
	IsPinned    *bool  `json:"is_pinned"`
	IsPublished *bool  `json:"is_published"`
}

func (obj Article) GetId() int {
	return obj.ID
}

func (obj Article) GetCursor() string {
	return obj.CreatedAt.String()
}

func CreateArticle(ctx context.Context, input *NewArticle) (*Article, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	article := Article{
		ClanId:      clanId,
		Title:       input.Title,
		Body:        input.Body,
		CoverUrl:    input.CoverUrl,
		IsPinned:    utils.NewFalse(),
		IsPublished: utils.NewFalse(),
		AuthorId:    userId,
	}
	if input.IsPinned != nil {
		article.IsPinned = input.IsPinned
	}
	if input.IsPublished != nil {
		article.IsPublished = input.IsPublished
	}
	if *article.IsPublished {
		now := time.Now().UTC()
		article.PublishedAt = &now
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&article).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, article.ID, &article, "Article created: "+article.Title); err != nil {
		tx.Rollback()
		return nil, err
	}

	// fan out to members once the article goes live
	if *article.IsPublished {
		if err := NotifyClan(ctx, tx, clanId, NotificationKindArticlePosted, article.ID, "articles", article.Title); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return &article, tx.Commit().Error
}

func UpdateArticle(ctx context.Context, id int, input *NewArticle) (*Article, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	current, err := utils.FetchModel[Article](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	article := Article{ID: id, ClanId: clanId}

	updates := map[string]interface{}{
		"Title":    input.Title,
		"Body":     input.Body,
		"CoverUrl": input.CoverUrl,
	}
	if input.IsPinned != nil {
		updates["IsPinned"] = input.IsPinned
	}
	publishingNow := false
	if input.IsPublished != nil {
		updates["IsPublished"] = input.IsPublished
		if *input.IsPublished && !*current.IsPublished {
			now := time.Now().UTC()
			updates["PublishedAt"] = &now
			publishingNow = true
		}
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&article).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Article updated"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if publishingNow {
		if err := NotifyClan(ctx, tx, clanId, NotificationKindArticlePosted, id, "articles", input.Title); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[Article](ctx, clanId, id)
}

func DeleteArticle(ctx context.Context, id int) (*Article, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[Article](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Article deleted: "+result.Title); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func GetArticle(ctx context.Context, id int) (*Article, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	return utils.FetchModel[Article](ctx, clanId, id)
}

type ArticlesConnection struct {
	Edges    []*ArticlesEdge `json:"edges"`
	PageInfo *PageInfo       `json:"page_info"`
}

type ArticlesEdge Edge[Article]

func PaginateArticles(ctx context.Context, limit *int, after *string, publishedOnly bool) (*ArticlesConnection, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clan_id = ?", clanId)
	if publishedOnly {
		dbCtx.Where("is_published = true")
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Article](dbCtx, normalizeLimit(limit), after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection ArticlesConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		articlesEdge := ArticlesEdge(edge)
		connection.Edges = append(connection.Edges, &articlesEdge)
	}
	return &connection, nil
}
