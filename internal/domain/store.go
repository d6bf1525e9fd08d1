package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errors for the store registry
var (
	ErrStoreNotFound  = errors.New("store not found")
	ErrInvalidStore   = errors.New("invalid store")
	ErrDuplicateStore = errors.New("duplicate store")
	ErrEmptyRegistry  = errors.New("store registry is empty")
)

// Store is one storefront whose inventory takes part in the sync.
type Store struct {
	Name       string
	Domain     string
	AdminURL   string
	APIKey     string
	Password   string
	LocationID int64
}

// Identity is the key used in logs, metrics and sync results. The domain
// wins over the name because it is what webhooks carry.
func (s Store) Identity() string {
	if s.Domain != "" {
		return strings.ToLower(s.Domain)
	}
	return s.Name
}

// Validate checks the fields every store needs to be reachable.
func (s Store) Validate() error {
	if s.Name == "" && s.Domain == "" {
		return fmt.Errorf("%w: name or domain is required", ErrInvalidStore)
	}
	if s.AdminURL == "" {
		return fmt.Errorf("%w: %s: admin URL is required", ErrInvalidStore, s.Identity())
	}
	if s.LocationID <= 0 {
		return fmt.Errorf("%w: %s: location id is required", ErrInvalidStore, s.Identity())
	}
	return nil
}

// MatchMode selects how webhook identities are matched against stores.
type MatchMode string

const (
	// MatchByDomain compares the shop domain header to Store.Domain, ignoring case.
	MatchByDomain MatchMode = "domain"
	// MatchByName looks for Store.Name inside the header value, ignoring case.
	MatchByName MatchMode = "name"
)

// IsValid checks if the match mode is known
func (m MatchMode) IsValid() bool {
	return m == MatchByDomain || m == MatchByName
}

// StoreRegistry is the immutable set of stores loaded at startup.
type StoreRegistry struct {
	stores []Store
	mode   MatchMode
}

// NewStoreRegistry validates stores and rejects duplicate names, domains or
// identities. The slice is copied.
func NewStoreRegistry(stores []Store, mode MatchMode) (*StoreRegistry, error) {
	if len(stores) == 0 {
		return nil, ErrEmptyRegistry
	}
	if mode == "" {
		mode = MatchByDomain
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown store match mode %q", mode)
	}

	names := make(map[string]struct{}, len(stores))
	domains := make(map[string]struct{}, len(stores))
	identities := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if mode == MatchByDomain && s.Domain == "" {
			return nil, fmt.Errorf("%w: %s: domain is required when matching by domain", ErrInvalidStore, s.Name)
		}
		if mode == MatchByName && s.Name == "" {
			return nil, fmt.Errorf("%w: %s: name is required when matching by name", ErrInvalidStore, s.Domain)
		}
		if s.Name != "" {
			key := strings.ToLower(s.Name)
			if _, dup := names[key]; dup {
				return nil, fmt.Errorf("%w: name %q", ErrDuplicateStore, s.Name)
			}
			names[key] = struct{}{}
		}
		if s.Domain != "" {
			key := strings.ToLower(s.Domain)
			if _, dup := domains[key]; dup {
				return nil, fmt.Errorf("%w: domain %q", ErrDuplicateStore, s.Domain)
			}
			domains[key] = struct{}{}
		}
		// A domain-less store is keyed by its name, which may equal another
		// store's domain.
		id := strings.ToLower(s.Identity())
		if _, dup := identities[id]; dup {
			return nil, fmt.Errorf("%w: identity %q", ErrDuplicateStore, s.Identity())
		}
		identities[id] = struct{}{}
	}

	return &StoreRegistry{
		stores: append([]Store(nil), stores...),
		mode:   mode,
	}, nil
}

// Mode returns the configured match mode
func (r *StoreRegistry) Mode() MatchMode {
	return r.mode
}

// Len returns the number of registered stores
func (r *StoreRegistry) Len() int {
	return len(r.stores)
}

// Stores returns a copy of the registered stores in registry order.
func (r *StoreRegistry) Stores() []Store {
	return append([]Store(nil), r.stores...)
}

// Lookup finds the store a webhook came from. In name mode the first store
// in registry order whose name is contained in identity wins.
func (r *StoreRegistry) Lookup(identity string) (Store, bool) {
	identity = strings.TrimSpace(strings.ToLower(identity))
	if identity == "" {
		return Store{}, false
	}

	for _, s := range r.stores {
		switch r.mode {
		case MatchByName:
			if strings.Contains(identity, strings.ToLower(s.Name)) {
				return s, true
			}
		default:
			if strings.ToLower(s.Domain) == identity {
				return s, true
			}
		}
	}
	return Store{}, false
}

// Others returns every store except the given one, in registry order.
func (r *StoreRegistry) Others(store Store) []Store {
	out := make([]Store, 0, len(r.stores))
	for _, s := range r.stores {
		if s.Identity() != store.Identity() {
			out = append(out, s)
		}
	}
	return out
}
