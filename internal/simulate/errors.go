package simulate

import "fmt"

// ConfigError reports an invalid generator configuration. It is fatal to the
// operation that discovers it and is raised before any sampling occurs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid generator config: %s %s", e.Field, e.Reason)
}
