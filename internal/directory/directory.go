// Package directory is the vehicle and user roster the reconciliation engine
// reads from. It is plain CRUD over an embedded bolt database.
package directory

import "time"

// Status of a vehicle or user
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Role of a console user
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Vehicle is a fleet vehicle. Validation records keep a copy of its ID only,
// so a record may outlive the vehicle it references.
type Vehicle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plate     string    `json:"plate"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the vehicle may be selected for verification
func (v *Vehicle) Active() bool {
	return v.Status == StatusActive
}

// User is a console operator. PasswordHash never leaves the package in JSON.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VehicleInput carries the editable fields of a vehicle
type VehicleInput struct {
	Name   string `json:"name" validate:"required,max=80"`
	Plate  string `json:"plate" validate:"required,max=16"`
	Status Status `json:"status" validate:"required,oneof=active inactive"`
}

// UserInput carries the editable fields of a user. Password may be left empty
// on update to keep the current one.
type UserInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"omitempty,min=6,max=72"`
	Role     Role   `json:"role" validate:"required,oneof=admin user"`
	Status   Status `json:"status" validate:"required,oneof=active inactive"`
}

// VehicleFilter narrows ListVehicles. Query matches name or plate.
type VehicleFilter struct {
	Query  string
	Status Status
}

// UserFilter narrows ListUsers
type UserFilter struct {
	Name   string
	Email  string
	Status Status
}
