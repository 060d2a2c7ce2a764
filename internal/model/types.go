package model

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleTrainer Role = "trainer"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// LowestRole is granted whenever a role is missing or unrecognized.
const LowestRole = RoleStudent

var roleRank = map[Role]int{
	RoleStudent: 0,
	RoleTrainer: 1,
	RoleStaff:   2,
	RoleAdmin:   3,
}

func ParseRole(raw string) (Role, bool) {
	r := Role(raw)
	_, ok := roleRank[r]
	return r, ok
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank orders roles by privilege. Unknown roles rank below student.
func (r Role) Rank() int {
	rank, ok := roleRank[r]
	if !ok {
		return -1
	}
	return rank
}

func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

func Roles() []Role {
	return []Role{RoleStudent, RoleTrainer, RoleStaff, RoleAdmin}
}

type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
}

type Session struct {
	Identity    Identity  `json:"identity"`
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Phone       string `json:"phone,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

func ParseOp(raw string) (Op, bool) {
	switch Op(raw) {
	case OpInsert, OpUpdate, OpDelete:
		return Op(raw), true
	}
	return "", false
}

type ChangeEvent struct {
	Table string `json:"table"`
	Op    Op     `json:"op"`
	RowID string `json:"id"`
	At    int64  `json:"at"`
}

// EventMask selects which operations a realtime subscription receives.
// The zero mask means all operations.
type EventMask []Op

func (m EventMask) Matches(op Op) bool {
	if len(m) == 0 {
		return true
	}
	for _, o := range m {
		if o == op {
			return true
		}
	}
	return false
}

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id" validate:"required"`
	Title     string           `json:"title" validate:"required,max=200"`
	Message   string           `json:"message" validate:"required"`
	Type      NotificationType `json:"type" validate:"omitempty,oneof=info success warning error"`
	ActionURL string           `json:"action_url,omitempty" validate:"omitempty,url"`
	Read      bool             `json:"read"`
	ExpiresAt int64            `json:"expires_at,omitempty"`
	CreatedAt int64            `json:"created_at"`
}

// Row is a generic table-store record keyed by column name.
type Row map[string]any

func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

func (r Row) String(col string) string {
	v, _ := r[col].(string)
	return v
}

// Caller is the authenticated principal a backend request runs as.
type Caller struct {
	UserID string
	Email  string
	Role   Role
}

func (c Caller) Anonymous() bool { return c.UserID == "" }

// Join embeds the row of Table whose id equals the value of column On.
type Join struct {
	Table string `json:"table"`
	On    string `json:"on"`
}

// Query is a table-store read: equality filters, optional ordering, paging and joins.
type Query struct {
	Table  string         `json:"table"`
	Eq     map[string]any `json:"eq,omitempty"`
	Order  string         `json:"order,omitempty"`
	Desc   bool           `json:"desc,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
	Joins  []Join         `json:"joins,omitempty"`
}
