package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// User roles. Workers (role "user") are assignment targets; admins manage
// distribution and ship-out.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// User is a warehouse account postings get assigned to.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        int64     `bun:",pk,autoincrement"`
	Login     string    `bun:"login,notnull,unique"`
	Name      string    `bun:"name,notnull"`
	Role      string    `bun:"role,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}
