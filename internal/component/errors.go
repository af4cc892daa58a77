package component

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no entry matched in the requested namespace nor its fallback.
	ErrNotFound = errors.New("component not found")
	// ErrInvalidNamespace means the namespace is not part of the deployment.
	ErrInvalidNamespace = errors.New("invalid namespace")
	// ErrCollision means the alias is already registered in that namespace.
	ErrCollision = errors.New("alias already registered")
)

// MissingComponentError carries the lookup that failed. It matches ErrNotFound.
type MissingComponentError struct {
	Alias     string
	Namespace string
}

func (e *MissingComponentError) Error() string {
	return fmt.Sprintf("component %q not found in namespace %q or %q", e.Alias, e.Namespace, DefaultNamespace)
}

func (e *MissingComponentError) Is(target error) bool {
	return target == ErrNotFound
}

// ConfigError reports an invalid manifest or config shape.
type ConfigError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("config error in %s (%s): %s", e.Path, e.Field, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("config error in %s: %s", e.Path, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("config error (%s): %s", e.Field, e.Reason)
	default:
		return "config error: " + e.Reason
	}
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
