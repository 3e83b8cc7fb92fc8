package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/automation"
	"github.com/ifuryst/fanout/internal/service/session"
	"github.com/ifuryst/fanout/pkg/util"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// AccountService manages the accounts whose cookie files jobs deliver with.
type AccountService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAccountService(db *gorm.DB, logger *zap.Logger) *AccountService {
	return &AccountService{db: db, logger: logger}
}

// AccountInput creates or edits an account. Nil fields are left alone on
// update.
type AccountInput struct {
	PlatformType *models.PlatformType  `json:"type"`
	UserName     *string               `json:"userName"`
	FilePath     *string               `json:"filePath"`
	Status       *models.AccountStatus `json:"status"`
}

func (s *AccountService) List(ctx context.Context, platform models.PlatformType) ([]models.Account, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if platform != 0 {
		query = query.Where("platform_type = ?", platform)
	}
	var accounts []models.Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (s *AccountService) Get(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *AccountService) Create(ctx context.Context, in AccountInput) (*models.Account, error) {
	if in.PlatformType == nil || !in.PlatformType.Valid() {
		return nil, fmt.Errorf("%w: type must be one of 1..4", ErrInvalidInput)
	}
	if in.UserName == nil || strings.TrimSpace(*in.UserName) == "" {
		return nil, fmt.Errorf("%w: userName is required", ErrInvalidInput)
	}

	account := models.Account{
		PlatformType: *in.PlatformType,
		UserName:     strings.TrimSpace(*in.UserName),
		Status:       models.AccountAbnormal,
	}
	filePath := automation.CookieFile(account.UserName)
	if in.FilePath != nil && strings.TrimSpace(*in.FilePath) != "" {
		filePath = *in.FilePath
	}
	clean, err := util.CleanRelPath(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: filePath: %v", ErrInvalidInput, err)
	}
	account.FilePath = clean
	if in.Status != nil {
		account.Status = *in.Status
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.logger.Info("Account created",
		zap.Uint("account_id", account.ID),
		zap.String("platform", account.PlatformType.String()),
		zap.String("user_name", account.UserName))
	return &account, nil
}

func (s *AccountService) Update(ctx context.Context, id uint, in AccountInput) (*models.Account, error) {
	updates := map[string]interface{}{}
	if in.PlatformType != nil {
		if !in.PlatformType.Valid() {
			return nil, fmt.Errorf("%w: type must be one of 1..4", ErrInvalidInput)
		}
		updates["platform_type"] = *in.PlatformType
	}
	if in.UserName != nil {
		name := strings.TrimSpace(*in.UserName)
		if name == "" {
			return nil, fmt.Errorf("%w: userName must not be empty", ErrInvalidInput)
		}
		updates["user_name"] = name
	}
	if in.FilePath != nil {
		clean, err := util.CleanRelPath(*in.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: filePath: %v", ErrInvalidInput, err)
		}
		updates["file_path"] = clean
	}
	if in.Status != nil {
		updates["status"] = *in.Status
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return account, nil
	}
	if err := s.db.WithContext(ctx).Model(account).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *AccountService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Account{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	s.logger.Info("Account deleted", zap.Uint("account_id", id))
	return nil
}

// RecordLogin applies the outcome of a login session. Success stores the
// account as normal with its fresh cookie file; a failure code marks an
// existing account abnormal. A session without a terminal token changes
// nothing.
func (s *AccountService) RecordLogin(ctx context.Context, res session.Result) error {
	switch {
	case res.Token == "":
		return nil
	case res.Succeeded():
		account := models.Account{
			PlatformType: res.Platform,
			UserName:     res.AccountKey,
			FilePath:     automation.CookieFile(res.AccountKey),
			Status:       models.AccountNormal,
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_type"}, {Name: "user_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_path", "status", "updated_at"}),
		}).Create(&account).Error
		if err != nil {
			return fmt.Errorf("failed to save account after login: %w", err)
		}
		s.logger.Info("Account login succeeded",
			zap.String("platform", res.Platform.String()),
			zap.String("user_name", res.AccountKey))
		return nil
	default:
		err := s.db.WithContext(ctx).Model(&models.Account{}).
			Where("platform_type = ? AND user_name = ?", res.Platform, res.AccountKey).
			Update("status", models.AccountAbnormal).Error
		if err != nil {
			return fmt.Errorf("failed to mark account abnormal: %w", err)
		}
		s.logger.Warn("Account login failed",
			zap.String("platform", res.Platform.String()),
			zap.String("user_name", res.AccountKey),
			zap.String("code", res.Token))
		return nil
	}
}
