package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/disintegration/imaging"
)

// UploadResponse carries the public URLs of an uploaded image and its
// generated thumbnail. Member avatars and article covers reference these
// URLs directly.
type UploadResponse struct {
	ImageUrl     string `json:"image_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

func UploadSingleImage(ctx context.Context, filename string, file io.Reader) (*UploadResponse, error) {

	originalCloudURL, thumbnailCloudURL, err := UploadImage(ctx, filename, file)
	if err != nil {
		return nil, err
	}

	return &UploadResponse{
		ImageUrl:     originalCloudURL,
		ThumbnailUrl: thumbnailCloudURL,
	}, nil
}

func UploadImage(ctx context.Context, filename string, file io.Reader) (string, string, error) {
	clanId, _ := utils.GetClanIdFromContext(ctx)

	if file == nil {
		return "", "", errors.New("nil file provided")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", "", err
	}

	imageData := base64.StdEncoding.EncodeToString(data)

	ext := filepath.Ext(filename)
	if ext == "" {
		return "", "", errors.New("file has no extension")
	}
	storagePath := "images/"
	uniqueFilename := clanId + " " + utils.GenerateUniqueFilename() + ext
	originalImageObjectURL := filepath.Join(storagePath, uniqueFilename)
	thumbnailImageObjectURL := filepath.Join(storagePath, "thumbnails", uniqueFilename)

	err = utils.SaveImageToGCS(ctx, originalImageObjectURL, imageData)
	if err != nil {
		return "", "", err
	}

	thumbnailData, err := generateThumbnail(data)
	if err != nil {
		return "", "", err
	}
	thumbnailImageData := base64.StdEncoding.EncodeToString(thumbnailData)

	err = utils.SaveImageToGCS(ctx, thumbnailImageObjectURL, thumbnailImageData)
	if err != nil {
		return "", "", err
	}

	return getCloudURL(originalImageObjectURL), getCloudURL(thumbnailImageObjectURL), nil
}

// RemoveImage deletes an uploaded image plus its thumbnail from cloud
// storage. Images still referenced by a member or article are protected.
func RemoveImage(ctx context.Context, fullUrl string) (*UploadResponse, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&Member{}).
		Where("clan_id = ? AND (avatar_url = ? OR thumbnail_url = ?)", clanId, fullUrl, fullUrl).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		if err := db.WithContext(ctx).Model(&Article{}).
			Where("clan_id = ? AND cover_url = ?", clanId, fullUrl).
			Count(&count).Error; err != nil {
			return nil, err
		}
	}
	if count > 0 {
		return nil, errors.New("cannot delete image still in use")
	}

	objectName := extractObjectName(fullUrl)
	if objectName == "" {
		return nil, errors.New("invalid url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return nil, errors.New("object does not exist")
	}

	if err := utils.DeleteImageFromGCS(ctx, objectName); err != nil {
		return nil, err
	}
	parts := strings.SplitN(objectName, "/", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid url")
	}
	thumbnailObjectName := filepath.Join(parts[0], "thumbnails", parts[1])
	// thumbnail may be missing for files uploaded before thumbnails existed
	if ok, _ := utils.ObjectExistsInGCS(ctx, thumbnailObjectName); ok {
		if err := utils.DeleteImageFromGCS(ctx, thumbnailObjectName); err != nil {
			return nil, err
		}
	}

	return &UploadResponse{
		ImageUrl:     getCloudURL(objectName),
		ThumbnailUrl: getCloudURL(thumbnailObjectName),
	}, nil
}

func getCloudURL(objectName string) string {
	return "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName
}

func extractObjectName(cloudUrl string) string {
	baseUrl := "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/"
	objectName, found := strings.CutPrefix(cloudUrl, baseUrl)
	if !found {
		return ""
	}
	return objectName
}

func generateThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	err = imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG)
	if err != nil {
		return nil, err
	}

	return thumbnailBuffer.Bytes(), nil
}
