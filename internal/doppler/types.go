package doppler

// Access is the permission level of a service token.
type Access string

const (
	// AccessRead grants read-only access to a config's secrets.
	AccessRead Access = "read"
	// AccessReadWrite grants read and write access to a config's secrets.
	AccessReadWrite Access = "read/write"
)

// Valid reports whether the access level is one the Doppler API accepts.
func (a Access) Valid() bool {
	return a == AccessRead || a == AccessReadWrite
}

// Project is a top-level namespace grouping configs and secrets.
// All fields come verbatim from the Doppler API; nothing is stored locally.
type Project struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Config is a named environment (development, staging, ...) within a project.
type Config struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Root        bool   `json:"root"`
	Locked      bool   `json:"locked"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// SecretValue holds the raw and computed forms of a secret. Doppler may
// apply reference interpolation between the two; both are passed through
// uninterpreted.
type SecretValue struct {
	Raw      *string `json:"raw"`
	Computed *string `json:"computed"`
}

// Secret is a named value within a (project, config) pair. Value is nil
// when the name was absent from the remote response.
type Secret struct {
	Name  string       `json:"name"`
	Value *SecretValue `json:"value,omitempty"`
}

// ServiceToken is a config-scoped credential. Key is returned exactly once
// at creation and never persisted by this process.
type ServiceToken struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Key         string `json:"key,omitempty"`
	Project     string `json:"project"`
	Environment string `json:"environment,omitempty"`
	Config      string `json:"config"`
	Access      Access `json:"access"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ActivityLog is one workplace activity entry.
type ActivityLog struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	User        *ActivityActor `json:"user,omitempty"`
	Project     string         `json:"project,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Config      string         `json:"config,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

// ActivityActor identifies who performed a logged action.
type ActivityActor struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// PromotionResult reports the outcome of copying secrets between configs.
type PromotionResult struct {
	Project  string   `json:"project"`
	Source   string   `json:"source_config"`
	Target   string   `json:"target_config"`
	Count    int      `json:"count"`
	Written  []string `json:"written"`
	Excluded []string `json:"excluded,omitempty"`
}
