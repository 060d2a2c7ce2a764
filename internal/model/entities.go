package model

import "encoding/json"

const (
	TableProfiles      = "profiles"
	TableStudents      = "students"
	TableTrainers      = "trainers"
	TableEmployees     = "employees"
	TableJobs          = "jobs"
	TableInventory     = "inventory"
	TablePrograms      = "programs"
	TableReports       = "reports"
	TableNotifications = "notifications"
)

func Tables() []string {
	return []string{
		TableProfiles,
		TableStudents,
		TableTrainers,
		TableEmployees,
		TableJobs,
		TableInventory,
		TablePrograms,
		TableReports,
		TableNotifications,
	}
}

// IsTable reports whether name is one of the application tables.
func IsTable(name string) bool {
	for _, t := range Tables() {
		if t == name {
			return true
		}
	}
	return false
}

type Student struct {
	ID         string `json:"id,omitempty"`
	FullName   string `json:"full_name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,e164"`
	ProgramID  string `json:"program_id,omitempty"`
	Status     string `json:"status" validate:"required,oneof=active inactive graduated dropped"`
	EnrolledAt int64  `json:"enrolled_at,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  int64  `json:"created_at,omitempty"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}

type Trainer struct {
	ID        string `json:"id,omitempty"`
	FullName  string `json:"full_name" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email"`
	Specialty string `json:"specialty,omitempty"`
	Active    bool   `json:"active"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

type Employee struct {
	ID         string  `json:"id,omitempty"`
	FullName   string  `json:"full_name" validate:"required,max=120"`
	Email      string  `json:"email" validate:"required,email"`
	Department string  `json:"department" validate:"required"`
	Position   string  `json:"position,omitempty"`
	Salary     float64 `json:"salary" validate:"gte=0"`
	HiredAt    int64   `json:"hired_at,omitempty"`
	CreatedBy  string  `json:"created_by,omitempty"`
	CreatedAt  int64   `json:"created_at,omitempty"`
	UpdatedAt  int64   `json:"updated_at,omitempty"`
}

type JobPosting struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title" validate:"required,max=200"`
	Company     string `json:"company" validate:"required"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" validate:"required,oneof=open closed draft"`
	ClosesAt    int64  `json:"closes_at,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

type Product struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name" validate:"required,max=120"`
	SKU       string  `json:"sku" validate:"required,alphanum"`
	Quantity  int     `json:"quantity" validate:"gte=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Sold      int     `json:"sold" validate:"gte=0"`
	CreatedBy string  `json:"created_by,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`
	UpdatedAt int64   `json:"updated_at,omitempty"`
}

type Program struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description,omitempty"`
	MentorID    string `json:"mentor_id,omitempty"`
	Capacity    int    `json:"capacity" validate:"gte=0"`
	Status      string `json:"status" validate:"required,oneof=planned running completed"`
	StartsAt    int64  `json:"starts_at,omitempty"`
	EndsAt      int64  `json:"ends_at,omitempty" validate:"omitempty,gtefield=StartsAt"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

type Report struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title" validate:"required,max=200"`
	Kind      string `json:"kind" validate:"required,oneof=attendance financial progress incident"`
	Body      string `json:"body,omitempty"`
	Status    string `json:"status" validate:"required,oneof=pending approved rejected"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// ToRow converts a typed record into a table-store row through its JSON form.
func ToRow(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func FromRow[T any](row Row) (T, error) {
	var out T
	data, err := json.Marshal(row)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func FromRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := FromRow[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
