package directory

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

const (
	vehicleBucketName = "vehicles"
	userBucketName    = "users"
)

// DB defines the interface for directory persistence
type DB interface {
	SaveVehicle(vehicle *Vehicle) error
	GetVehicle(id string) (*Vehicle, error)
	ListVehicles() ([]*Vehicle, error)
	DeleteVehicle(id string) error

	SaveUser(user *User) error
	GetUser(id string) (*User, error)
	ListUsers() ([]*User, error)
	DeleteUser(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Keys are time-ordered
// IDs, so bucket iteration returns records in creation order.
type BoltDB struct {
	db *bbolt.DB
}

// userRecord is the stored form of a User; the hash is hidden from the
// public JSON shape.
type userRecord struct {
	User
	PasswordHash string `json:"password_hash"`
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{vehicleBucketName, userBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucket, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
	})
}

func get[T any](b *BoltDB, bucket, resource, id string) (*T, error) {
	var out *T
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(id))
		if data == nil {
			return apperrors.NewNotFoundError(resource, id)
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func list[T any](b *BoltDB, bucket string) ([]*T, error) {
	out := make([]*T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s %s: %w", bucket, k, err)
			}
			out = append(out, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltDB) remove(bucket, resource, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt.Get([]byte(id)) == nil {
			return apperrors.NewNotFoundError(resource, id)
		}
		return bkt.Delete([]byte(id))
	})
}

// SaveVehicle inserts or replaces a vehicle
func (b *BoltDB) SaveVehicle(vehicle *Vehicle) error {
	return b.put(vehicleBucketName, vehicle.ID, vehicle)
}

// GetVehicle retrieves a vehicle by ID
func (b *BoltDB) GetVehicle(id string) (*Vehicle, error) {
	return get[Vehicle](b, vehicleBucketName, "vehicle", id)
}

// ListVehicles returns all vehicles in creation order
func (b *BoltDB) ListVehicles() ([]*Vehicle, error) {
	return list[Vehicle](b, vehicleBucketName)
}

// DeleteVehicle removes a vehicle
func (b *BoltDB) DeleteVehicle(id string) error {
	return b.remove(vehicleBucketName, "vehicle", id)
}

// SaveUser inserts or replaces a user, including its password hash
func (b *BoltDB) SaveUser(user *User) error {
	return b.put(userBucketName, user.ID, userRecord{User: *user, PasswordHash: user.PasswordHash})
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id string) (*User, error) {
	rec, err := get[userRecord](b, userBucketName, "user", id)
	if err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

// ListUsers returns all users in creation order
func (b *BoltDB) ListUsers() ([]*User, error) {
	recs, err := list[userRecord](b, userBucketName)
	if err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(recs))
	for _, rec := range recs {
		users = append(users, rec.toUser())
	}
	return users, nil
}

// DeleteUser removes a user
func (b *BoltDB) DeleteUser(id string) error {
	return b.remove(userBucketName, "user", id)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (r *userRecord) toUser() *User {
	u := r.User
	u.PasswordHash = r.PasswordHash
	return &u
}
