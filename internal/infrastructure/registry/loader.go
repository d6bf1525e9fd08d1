// Package registry loads the store registry from a YAML file.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wms-platform/inventory-sync/internal/domain"
)

var (
	// ErrFileNotFound is returned when the registry file does not exist.
	ErrFileNotFound = errors.New("store registry file not found")
	// ErrInvalidFile is returned for unparsable or invalid registry files.
	ErrInvalidFile = errors.New("invalid store registry file")
)

// File is the on-disk layout of the registry.
type File struct {
	MatchMode string      `yaml:"matchMode" validate:"omitempty,oneof=domain name"`
	Stores    []StoreFile `yaml:"stores" validate:"required,min=1,dive"`
}

// StoreFile is one store entry.
type StoreFile struct {
	Name       string `yaml:"name" validate:"required_without=Domain"`
	Domain     string `yaml:"domain" validate:"omitempty,hostname_rfc1123"`
	AdminURL   string `yaml:"adminUrl" validate:"required,url"`
	APIKey     string `yaml:"apiKey" validate:"required"`
	Password   string `yaml:"password" validate:"required"`
	LocationID int64  `yaml:"locationId" validate:"required,gt=0"`
}

// LookupEnv resolves environment references. os.LookupEnv satisfies it.
type LookupEnv func(key string) (string, bool)

// LoadFile reads and validates the registry at path. A non-empty mode
// overrides the file's matchMode.
func LoadFile(path string, mode domain.MatchMode) (*domain.StoreRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("reading store registry: %w", err)
	}
	return Parse(data, mode, os.LookupEnv)
}

// Parse builds a registry from YAML content. ${VAR} references anywhere in
// the document are resolved through lookup before parsing; an undefined
// variable is an error.
func Parse(data []byte, mode domain.MatchMode, lookup LookupEnv) (*domain.StoreRegistry, error) {
	missing := map[string]struct{}{}
	expanded := os.Expand(string(data), func(key string) string {
		v, ok := lookup(key)
		if !ok {
			missing[key] = struct{}{}
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for k := range missing {
			names = append(names, k)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: undefined environment variables: %s", ErrInvalidFile, strings.Join(names, ", "))
	}

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, describe(err))
	}

	if mode == "" {
		mode = domain.MatchMode(file.MatchMode)
	}
	stores := make([]domain.Store, len(file.Stores))
	for i, s := range file.Stores {
		stores[i] = domain.Store{
			Name:       s.Name,
			Domain:     s.Domain,
			AdminURL:   s.AdminURL,
			APIKey:     s.APIKey,
			Password:   s.Password,
			LocationID: s.LocationID,
		}
	}
	return domain.NewStoreRegistry(stores, mode)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
