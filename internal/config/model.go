// internal/config/model.go
//
// Typed configuration model for the tenant control plane.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                             – dotenv values,
//   • `conf/global.yaml`                          – primary static file,
//   • `TENANTCTL_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is an opaque
// secret reference resolved through the Vault client at the point of use;
// the model never stores plaintext secrets.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing or defaults are out of range.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

//
// Metrics section
//

// Metrics holds the operational HTTP listener tunables (metrics + health).
type Metrics struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Database section
//

// Database holds the control-plane DSN and the data-plane target set.  The
// DSN may embed a `vault:` reference in place of the password; the
// bootstrap resolves it before opening the pool, keeping credentials out
// of flat files and git history.  Targets are "host:port" pairs the
// credential router may place tenant databases on.
type Database struct {
	ControlPlaneDSN string   `koanf:"control_plane_dsn" validate:"required"`
	Targets         []string `koanf:"targets"           validate:"required,min=1,dive,hostname_port"`
}

//
// Vault section
//

// Vault names the KV-v2 mount and base path under which per-tenant secrets
// (database passwords, API keys) are written.
type Vault struct {
	TenantSecretBase string `koanf:"tenant_secret_base" validate:"required"`
	CacheTTLSeconds  int    `koanf:"cache_ttl_seconds"  validate:"gte=0"`
}

//
// Tenant defaults section
//

// TenantDefaults seeds newly-created tenants.  Values are overridable per
// create request; these are the documented platform defaults.
type TenantDefaults struct {
	TrialDays    int `koanf:"trial_days"     validate:"gt=0"`
	MaxUsers     int `koanf:"max_users"      validate:"gt=0"`
	MaxAdmins    int `koanf:"max_admins"     validate:"gt=0"`
	MaxStorageGB int `koanf:"max_storage_gb" validate:"gt=0"`
}

//
// Data-plane pool section
//

// Pool tunes the lazy per-tenant connection cache.
type Pool struct {
	IdleTTLMinutes int `koanf:"idle_ttl_minutes" validate:"gt=0"`
	MaxEntries     int `koanf:"max_entries"      validate:"gt=0"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or TENANTCTL_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // TENANTCTL_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	Metrics  Metrics        `koanf:"metrics"`
	Database Database       `koanf:"database"`
	Vault    Vault          `koanf:"vault"`
	Defaults TenantDefaults `koanf:"defaults"`
	Pool     Pool           `koanf:"pool"`
	Paths    Paths          `koanf:"-"` // not loaded from config files
}
