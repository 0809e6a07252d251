package model

import "time"

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProducer Role = "PRODUCER"
	RoleAdmin    Role = "ADMIN"
)

// 認証まわりは外部。ここでは通知先と権限だけ持つ
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(255);not null;default:''" json:"name"`
	Role      Role      `gorm:"type:varchar(20);not null;default:'CLIENT';index" json:"role"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 表示名（名前が無ければメール）
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
