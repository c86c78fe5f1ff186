package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

type settingsRepository interface {
	List(ctx context.Context) ([]models.SystemSetting, error)
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
	Upsert(ctx context.Context, settings []models.SystemSetting) error
}

type brandingSetting struct {
	def   string
	check func(v *validator.Validate, value string) string
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var brandingSettings = map[string]brandingSetting{
	"site_name": {
		def: "Archivia",
		check: func(_ *validator.Validate, value string) string {
			if value == "" || len(value) > 120 {
				return "must be between 1 and 120 characters"
			}
			return ""
		},
	},
	"primary_color": {
		def: "#1f4e79",
		check: func(_ *validator.Validate, value string) string {
			if !hexColor.MatchString(value) {
				return "must be a hex color such as #1f4e79"
			}
			return ""
		},
	},
	"logo_url": {
		check: func(v *validator.Validate, value string) string {
			if value == "" {
				return ""
			}
			if err := v.Var(value, "url,startswith=https://"); err != nil {
				return "must be an https URL"
			}
			return ""
		},
	},
	"theme": {
		def: "light",
		check: func(v *validator.Validate, value string) string {
			if err := v.Var(value, "oneof=light dark system"); err != nil {
				return "must be one of light, dark or system"
			}
			return ""
		},
	},
}

// SettingsService manages the site branding settings.
type SettingsService struct {
	repo      settingsRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(repo settingsRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *SettingsService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns every branding setting, falling back to defaults for keys
// that were never stored.
func (s *SettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	stored := make(map[string]models.SystemSetting, len(rows))
	for _, row := range rows {
		stored[row.Key] = row
	}
	items := make([]models.SystemSetting, 0, len(brandingSettings))
	for _, key := range settingKeys() {
		if row, ok := stored[key]; ok {
			items = append(items, row)
			continue
		}
		items = append(items, models.SystemSetting{Key: key, Value: brandingSettings[key].def})
	}
	return items, nil
}

// Update stores one setting. Only super admins may change settings.
func (s *SettingsService) Update(ctx context.Context, actor Actor, key string, req models.UpdateSettingRequest) (*models.SystemSetting, error) {
	items, err := s.BulkUpdate(ctx, actor, dto.BulkUpdateSettingsRequest{Items: []dto.SettingItem{{Key: key, Value: req.Value}}})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// BulkUpdate validates every item before storing any of them.
func (s *SettingsService) BulkUpdate(ctx context.Context, actor Actor, req dto.BulkUpdateSettingsRequest) ([]models.SystemSetting, error) {
	if !actor.Role.CanManageSettings() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only super admins can change settings")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid settings payload")
	}

	details := map[string]string{}
	items := make([]models.SystemSetting, 0, len(req.Items))
	for _, item := range req.Items {
		key := strings.TrimSpace(item.Key)
		value := strings.TrimSpace(item.Value)
		meta, ok := brandingSettings[key]
		if !ok {
			details[key] = "is not a configurable setting"
			continue
		}
		if reason := meta.check(s.validator, value); reason != "" {
			details[key] = reason
			continue
		}
		items = append(items, models.SystemSetting{Key: key, Value: value, UpdatedBy: &actor.ID})
	}
	if len(details) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid settings", details)
	}

	previous := make(map[string]string, len(items))
	for _, item := range items {
		row, err := s.repo.Get(ctx, item.Key)
		switch {
		case err == nil:
			previous[item.Key] = row.Value
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load settings")
		}
	}

	if err := s.repo.Upsert(ctx, items); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update settings")
	}
	for _, item := range items {
		s.emitAudit(ctx, actor, item.Key, previous[item.Key], item.Value)
	}
	return items, nil
}

func (s *SettingsService) emitAudit(ctx context.Context, actor Actor, key, before, after string) {
	if s.audit == nil {
		return
	}
	resourceID := key
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionSettingsUpdate,
		Resource:   "system_setting",
		ResourceID: &resourceID,
		OldValues:  []byte(fmt.Sprintf(`{"value":%q}`, before)),
		NewValues:  []byte(fmt.Sprintf(`{"value":%q}`, after)),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("key", key), zap.Error(err))
	}
}

func settingKeys() []string {
	keys := make([]string, 0, len(brandingSettings))
	for key := range brandingSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
