package db

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"Gin_postgres_redis_lending_portal/models"
)

type UsersQuery struct {
	Role  models.Role
	Name  string
	Email string
	Page  int
	Size  int
}

type PagedUsers struct {
	Total int64         `json:"total"`
	Users []models.User `json:"users"`
}

func (r *Repo) ListUsers(ctx context.Context, q UsersQuery) (*PagedUsers, error) {
	q.Page, q.Size = normalizePage(q.Page, q.Size)

	tx := r.DB.WithContext(ctx).Model(&models.User{})
	if q.Role != "" {
		tx = tx.Where("role = ?", q.Role)
	}
	if s := strings.TrimSpace(q.Name); s != "" {
		tx = tx.Where("LOWER(name) LIKE ? ESCAPE '!'", containsPattern(s))
	}
	if s := strings.TrimSpace(q.Email); s != "" {
		tx = tx.Where("LOWER(email) LIKE ? ESCAPE '!'", containsPattern(s))
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}
	users := []models.User{}
	if err := tx.
		Order("created_at DESC").
		Offset((q.Page - 1) * q.Size).
		Limit(q.Size).
		Find(&users).Error; err != nil {
		return nil, err
	}
	return &PagedUsers{Users: users, Total: total}, nil
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	if err := r.DB.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err, userEmailIndex) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// DeleteUser refuses while the user still holds or awaits an item. Their
// loan history stays in the ledger.
func (r *Repo) DeleteUser(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrUserNotFound
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Loan{}).
			Where("requester_id = ? AND status IN ?", id, []string{string(models.LoanPending), string(models.LoanApproved)}).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrUserHasLoans
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Credential{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{ID: id})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

type ProfilePatch struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

func (r *Repo) UpdateProfile(ctx context.Context, id string, p ProfilePatch) (*models.User, error) {
	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = strings.TrimSpace(*p.Name)
	}
	if p.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*p.AvatarURL)
	}
	if len(updates) > 0 {
		res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrUserNotFound
		}
	}
	return r.FindUserByID(ctx, id)
}

func (r *Repo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "must_change_password": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repo) CountUsersByRole(ctx context.Context, role models.Role) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", role).
		Count(&n).Error
	return n, err
}
