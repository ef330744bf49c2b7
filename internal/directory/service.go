package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// Login failures. Each matches apperrors.ErrUnauthorized.
var (
	ErrUnknownEmail  = fmt.Errorf("%w: e-mail not found", apperrors.ErrUnauthorized)
	ErrInactiveUser  = fmt.Errorf("%w: user is deactivated, contact the administrator", apperrors.ErrUnauthorized)
	ErrWrongPassword = fmt.Errorf("%w: incorrect password", apperrors.ErrUnauthorized)
)

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates time-ordered UUIDv7 strings
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles directory operations
type Service struct {
	db          DB
	validate    *validator.Validate
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB) *Service {
	return NewServiceWithDeps(db, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// check validates in and converts the first failure into a ValidationError.
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return apperrors.NewValidationError(field, field+" is required")
		case "email":
			return apperrors.NewValidationError(field, "invalid e-mail address")
		case "oneof":
			return apperrors.NewValidationError(field, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "min":
			return apperrors.NewValidationError(field, fmt.Sprintf("%s must have at least %s characters", field, fe.Param()))
		case "max":
			return apperrors.NewValidationError(field, fmt.Sprintf("%s must have at most %s characters", field, fe.Param()))
		}
		return apperrors.NewValidationError(field, "invalid value")
	}
	return fmt.Errorf("validating input: %w", err)
}

func normalizeVehicle(in VehicleInput) VehicleInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Plate = strings.ToUpper(strings.TrimSpace(in.Plate))
	return in
}

// AddVehicle validates and stores a new vehicle
func (s *Service) AddVehicle(in VehicleInput) (*Vehicle, error) {
	in = normalizeVehicle(in)
	if err := s.check(in); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	vehicle := &Vehicle{
		ID:        s.idGenerator.Generate(),
		Name:      in.Name,
		Plate:     in.Plate,
		Status:    in.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveVehicle(vehicle); err != nil {
		return nil, fmt.Errorf("saving vehicle: %w", err)
	}
	return vehicle, nil
}

// UpdateVehicle replaces the editable fields of an existing vehicle
func (s *Service) UpdateVehicle(id string, in VehicleInput) (*Vehicle, error) {
	in = normalizeVehicle(in)
	if err := s.check(in); err != nil {
		return nil, err
	}

	vehicle, err := s.db.GetVehicle(id)
	if err != nil {
		return nil, fmt.Errorf("getting vehicle: %w", err)
	}
	vehicle.Name = in.Name
	vehicle.Plate = in.Plate
	vehicle.Status = in.Status
	vehicle.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveVehicle(vehicle); err != nil {
		return nil, fmt.Errorf("saving vehicle: %w", err)
	}
	return vehicle, nil
}

// DeleteVehicle removes a vehicle. Records referencing it are left alone.
func (s *Service) DeleteVehicle(id string) error {
	if err := s.db.DeleteVehicle(id); err != nil {
		return fmt.Errorf("deleting vehicle: %w", err)
	}
	return nil
}

// GetVehicle retrieves a vehicle by ID
func (s *Service) GetVehicle(id string) (*Vehicle, error) {
	vehicle, err := s.db.GetVehicle(id)
	if err != nil {
		return nil, fmt.Errorf("getting vehicle: %w", err)
	}
	return vehicle, nil
}

// ListVehicles returns the vehicles matching filter in creation order
func (s *Service) ListVehicles(filter VehicleFilter) ([]*Vehicle, error) {
	vehicles, err := s.db.ListVehicles()
	if err != nil {
		return nil, fmt.Errorf("listing vehicles: %w", err)
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]*Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(v.Name), query) &&
			!strings.Contains(strings.ToLower(v.Plate), query) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// FirstActiveVehicle returns the first active vehicle, or nil if none exist
func (s *Service) FirstActiveVehicle() (*Vehicle, error) {
	vehicles, err := s.ListVehicles(VehicleFilter{Status: StatusActive})
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, nil
	}
	return vehicles[0], nil
}

func normalizeUser(in UserInput) UserInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in
}

// emailTaken reports whether another user already uses email
func (s *Service) emailTaken(email, exceptID string) (bool, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return false, fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// AddUser validates and stores a new user with a bcrypt password hash
func (s *Service) AddUser(in UserInput) (*User, error) {
	in = normalizeUser(in)
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, apperrors.NewValidationError("password", "password is required")
	}

	taken, err := s.emailTaken(in.Email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: e-mail %s is already registered", apperrors.ErrConflict, in.Email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.timeSource.Now()
	user := &User{
		ID:           s.idGenerator.Generate(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Status:       in.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.SaveUser(user); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return user, nil
}

// UpdateUser replaces the editable fields of an existing user. An empty
// password keeps the current one.
func (s *Service) UpdateUser(id string, in UserInput) (*User, error) {
	in = normalizeUser(in)
	if err := s.check(in); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	taken, err := s.emailTaken(in.Email, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: e-mail %s is already registered", apperrors.ErrConflict, in.Email)
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	user.Name = in.Name
	user.Email = in.Email
	user.Role = in.Role
	user.Status = in.Status
	user.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveUser(user); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user
func (s *Service) DeleteUser(id string) error {
	if err := s.db.DeleteUser(id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(id string) (*User, error) {
	user, err := s.db.GetUser(id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

// ListUsers returns the users matching filter in creation order
func (s *Service) ListUsers(filter UserFilter) ([]*User, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(filter.Name))
	email := strings.ToLower(strings.TrimSpace(filter.Email))
	out := make([]*User, 0, len(users))
	for _, u := range users {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(u.Name), name) {
			continue
		}
		if email != "" && !strings.Contains(strings.ToLower(u.Email), email) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Authenticate checks an e-mail and password pair. The e-mail comparison is
// case-insensitive.
func (s *Service) Authenticate(email, password string) (*User, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	email = strings.TrimSpace(email)
	for _, u := range users {
		if !strings.EqualFold(u.Email, email) {
			continue
		}
		if u.Status == StatusInactive {
			return nil, ErrInactiveUser
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			return nil, ErrWrongPassword
		}
		return u, nil
	}
	return nil, ErrUnknownEmail
}

// SeedAdmin is the account created on first start. An empty password is
// replaced by a generated one, which is logged once.
type SeedAdmin struct {
	Name     string
	Email    string
	Password string
}

// demoVehicles populate an empty roster on first start
var demoVehicles = []VehicleInput{
	{Name: "VOLVO FH 540", Plate: "ABC-1234", Status: StatusActive},
	{Name: "SCANIA R 450", Plate: "XYZ-9876", Status: StatusActive},
	{Name: "MERCEDES ACTROS", Plate: "DEF-5678", Status: StatusInactive},
}

// Seed fills an empty directory with the demo vehicles and the admin user.
// Non-empty buckets are left untouched.
func (s *Service) Seed(admin SeedAdmin) error {
	vehicles, err := s.db.ListVehicles()
	if err != nil {
		return fmt.Errorf("listing vehicles: %w", err)
	}
	if len(vehicles) == 0 {
		for _, in := range demoVehicles {
			if _, err := s.AddVehicle(in); err != nil {
				return fmt.Errorf("seeding vehicle %s: %w", in.Plate, err)
			}
		}
		slog.Info("Seeded demo vehicles", "count", len(demoVehicles))
	}

	users, err := s.db.ListUsers()
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	if len(users) == 0 && admin.Email != "" {
		if admin.Name == "" {
			admin.Name = "Administrator"
		}
		generated := admin.Password == ""
		if generated {
			admin.Password = generatePassword()
		}
		if _, err := s.AddUser(UserInput{
			Name:     admin.Name,
			Email:    admin.Email,
			Password: admin.Password,
			Role:     RoleAdmin,
			Status:   StatusActive,
		}); err != nil {
			return fmt.Errorf("seeding admin user: %w", err)
		}
		if generated {
			slog.Warn("Seeded admin user with a generated password; change it after signing in",
				"email", admin.Email,
				"password", admin.Password,
			)
		} else {
			slog.Info("Seeded admin user", "email", admin.Email)
		}
	}
	return nil
}

// generatePassword returns a random 20-character password
func generatePassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
