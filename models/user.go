package models

import (
	"errors"
	"strings"
	"time"
)

const UserTable = "lsb_users"
const CredentialTable = "lsb_credentials"

type Role string

const (
	RoleStudent    Role = "student"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole accepts the legacy "siswa" spelling for students.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student", "siswa":
		return RoleStudent, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin", "super_admin":
		return RoleSuperadmin, nil
	}
	return "", ErrInvalidRole
}

// IsStaff reports whether the role may approve, reject or close loans.
func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleSuperadmin }

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin || r == RoleSuperadmin
}

// User ID is a UUID string; its raw bytes double as the WebAuthn user handle.
type User struct {
	ID                 string `gorm:"primaryKey;type:uuid" json:"id"`
	Email              string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name               string `gorm:"size:255;not null" json:"name"`
	Role               Role   `gorm:"size:20;not null;default:'student'" json:"role"`
	PasswordHash       string `gorm:"size:255" json:"-"`
	AvatarURL          string `gorm:"size:512" json:"avatarUrl,omitempty"`
	MustChangePassword bool   `gorm:"not null;default:false" json:"mustChangePassword"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
	LoginCount  int64      `gorm:"not null;default:0" json:"loginCount"`
	LastLoginIP string     `gorm:"size:45" json:"-"`
	LastLoginUA string     `gorm:"size:255" json:"-"`

	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Credentials []Credential `json:"-"`
}

func (User) TableName() string { return UserTable }

// Credential is one registered passkey. CredentialID, PublicKey and AAGUID
// are stored as bytea.
type Credential struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"type:uuid;index" json:"userId"`
	CredentialID    []byte    `gorm:"uniqueIndex" json:"credentialId"`
	PublicKey       []byte    `json:"-"`
	AttestationType string    `gorm:"size:64" json:"attestationType"`
	AAGUID          []byte    `gorm:"type:bytea" json:"aaguid"`
	SignCount       uint32    `json:"signCount"`
	CloneWarning    bool      `json:"cloneWarning"`
	BackupEligible  bool      `json:"backupEligible"`
	BackupState     bool      `json:"backupState"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func (Credential) TableName() string { return CredentialTable }
