// Package profiles persists named connection endpoints so a frontend
// can offer a list of saved remote locations. Records live in a bbolt
// database alongside an explicit display order.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/xid"
	"go.etcd.io/bbolt"

	"github.com/quarrydev/fileops/pathaddr"
)

var (
	// ErrProfileNotFound is returned when no profile has the given id.
	ErrProfileNotFound = errors.New("profile not found")
)

var (
	profilesBucket = []byte("profiles")
	orderBucket    = []byte("order")
	orderKey       = []byte("ids")
)

// Profile is one saved connection endpoint. Passwords are never stored;
// RememberPassword only marks that the session cache should keep them.
type Profile struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Scheme           string `json:"scheme"`
	Host             string `json:"host"`
	Port             int    `json:"port,omitempty"`
	Folder           string `json:"folder,omitempty"`
	Username         string `json:"username,omitempty"`
	RememberPassword bool   `json:"remember_password,omitempty"`
}

// Address builds the remote address this profile points at. Profiles
// with no scheme or host fail the concreteness check.
func (p Profile) Address() (pathaddr.Address, error) {
	authority := p.Host
	if p.Username != "" {
		authority = p.Username + "@" + authority
	}
	if p.Port != 0 {
		authority = authority + ":" + strconv.Itoa(p.Port)
	}
	folder := p.Folder
	if folder == "" {
		folder = "/"
	}
	addr := pathaddr.Parse(p.Scheme + "://" + authority + folder)
	if !addr.IsRemote() {
		return pathaddr.Address{}, fmt.Errorf("profile %q has no scheme", p.Name)
	}
	if err := addr.Concrete(); err != nil {
		return pathaddr.Address{}, err
	}
	return addr, nil
}

// FromAddress seeds a profile from a parsed remote address. The caller
// names it.
func FromAddress(name string, addr pathaddr.Address) Profile {
	return Profile{
		Name:     name,
		Scheme:   addr.Scheme(),
		Host:     addr.Host(),
		Port:     addr.Port(),
		Folder:   addr.Path(),
		Username: addr.User(),
	}
}

// Store persists profiles.
type Store interface {
	Save(p *Profile) error
	Get(id string) (*Profile, error)
	List() ([]Profile, error)
	Delete(id string) error
	Close() error
}

// BoltStore is a Store backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the profile database at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(profilesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Save writes the profile, assigning an id to new records and appending
// them to the display order.
func (s *BoltStore) Save(p *Profile) error {
	fresh := p.ID == ""
	if fresh {
		p.ID = xid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(profilesBucket)

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}
		if err := b.Put([]byte(p.ID), data); err != nil {
			return fmt.Errorf("failed to put profile: %w", err)
		}

		if fresh {
			order := readOrder(tx)
			order = append(order, p.ID)
			return writeOrder(tx, order)
		}
		return nil
	})
}

// Get retrieves one profile by id.
func (s *BoltStore) Get(id string) (*Profile, error) {
	var p Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(profilesBucket).Get([]byte(id))
		if data == nil {
			return ErrProfileNotFound
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns every profile in display order.
func (s *BoltStore) List() ([]Profile, error) {
	var out []Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(profilesBucket)
		for _, id := range readOrder(tx) {
			data := b.Get([]byte(id))
			if data == nil {
				continue // order may reference a record deleted mid-crash
			}
			var p Profile
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("failed to unmarshal profile %s: %w", id, err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a profile and its order slot. Unknown ids are a no-op.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(profilesBucket).Delete([]byte(id)); err != nil {
			return err
		}
		order := readOrder(tx)
		for i, oid := range order {
			if oid == id {
				order = append(order[:i], order[i+1:]...)
				break
			}
		}
		return writeOrder(tx, order)
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readOrder(tx *bbolt.Tx) []string {
	data := tx.Bucket(orderBucket).Get(orderKey)
	if data == nil {
		return nil
	}
	var order []string
	if err := json.Unmarshal(data, &order); err != nil {
		return nil
	}
	return order
}

func writeOrder(tx *bbolt.Tx, order []string) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return tx.Bucket(orderBucket).Put(orderKey, data)
}
