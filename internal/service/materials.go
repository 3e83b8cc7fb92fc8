package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
	"github.com/ifuryst/fanout/pkg/util"
)

var ErrMaterialNotFound = errors.New("material not found")

// MaterialService keeps the records of uploaded media files.
type MaterialService struct {
	db       *gorm.DB
	resolver publisher.Resolver
	logger   *zap.Logger
}

func NewMaterialService(db *gorm.DB, resolver publisher.Resolver, logger *zap.Logger) *MaterialService {
	return &MaterialService{db: db, resolver: resolver, logger: logger}
}

type MaterialInput struct {
	Filename   string  `json:"filename"`
	FilePath   string  `json:"filePath"`
	FileSizeMB float64 `json:"filesize"`
}

func (s *MaterialService) Record(ctx context.Context, in MaterialInput) (*models.Material, error) {
	clean, err := util.CleanRelPath(in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: filePath: %v", ErrInvalidInput, err)
	}
	if in.FileSizeMB < 0 {
		return nil, fmt.Errorf("%w: filesize must not be negative", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Filename)
	if name == "" {
		name = path.Base(clean)
	}

	material := models.Material{
		Filename:   name,
		FilePath:   clean,
		FileSizeMB: round2(in.FileSizeMB),
	}
	if err := s.db.WithContext(ctx).Create(&material).Error; err != nil {
		return nil, fmt.Errorf("failed to record material: %w", err)
	}
	return &material, nil
}

func (s *MaterialService) List(ctx context.Context) ([]models.Material, error) {
	var materials []models.Material
	if err := s.db.WithContext(ctx).Order("upload_time DESC, id DESC").Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	return materials, nil
}

// Delete removes the record and then the file. A missing or undeletable
// file is logged and does not fail the call.
func (s *MaterialService) Delete(ctx context.Context, id uint) (*models.Material, error) {
	var material models.Material
	if err := s.db.WithContext(ctx).First(&material, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("failed to get material: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&material).Error; err != nil {
		return nil, fmt.Errorf("failed to delete material: %w", err)
	}

	file, err := s.resolver.File(material.FilePath)
	if err != nil {
		s.logger.Warn("Material has an unsafe path, file left in place",
			zap.Uint("material_id", material.ID),
			zap.String("file_path", material.FilePath))
		return &material, nil
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove material file",
			zap.Uint("material_id", material.ID),
			zap.String("file", file),
			zap.Error(err))
	}
	return &material, nil
}
