// internal/vault/vault.go
//
// Vault client wrapper for the tenant control plane.
//
// Context
// -------
//   - Provides a concurrency-safe singleton around the HashiCorp Vault Go SDK.
//   - Adds background token renewal, simple KV-v2 helpers, and per-key caching.
//   - Database passwords and API keys are written here at provisioning time;
//     control-plane rows persist only the opaque `vault:` reference built by
//     Ref and parsed by ParseRef.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, log.Printf)            // during boot.
//  2. err     := cli.PutKV(ctx, path, key, secret)      // on provisioning.
//  3. pw, err := cli.Resolve(ctx, ref, ttl)             // on pool open.
//
// Build tags: none.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// RefPrefix marks a stored value as a Vault reference rather than a literal.
const RefPrefix = "vault:"

//
// SECTION 1.  Public façade
//

// Client is safe for concurrent use.  Create once at startup and inject it
// into the service graph.  Zero value is invalid.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client and starts a background token-renewal loop.
//
// Environment expectations
// ------------------------
// • VAULT_ADDR   – scheme and host of the Vault server.
// • VAULT_TOKEN  – initial token (falls back to ~/.vault-token).
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	c := &Client{
		api:   apiCli,
		logFn: logFn,
		cache: make(map[string]cached),
	}

	go c.renewLoop(ctx)

	return c, nil
}

// GetKV fetches a single key from a KV-v2 secret.  If ttl > 0 the result is
// cached for that duration.  Subsequent callers within the TTL receive the
// cached copy.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}

	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
			c.cacheMu.RUnlock()
			return cv.val, nil
		}
		c.cacheMu.RUnlock()
	}

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}

	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}

	return sval, nil
}

// PutKV writes a single key into a KV-v2 secret, merging with any existing
// keys at that path.  The local TTL cache entry for the key is invalidated.
func (c *Client) PutKV(ctx context.Context, secretPath, key, value string) error {
	if secretPath == "" || key == "" {
		return errors.New("secret path and key must be non-empty")
	}

	mount, rel := splitMount(secretPath)
	kv := c.api.KVv2(mount)

	data := map[string]any{}
	if sec, err := kv.Get(ctx, rel); err == nil && sec != nil {
		for k, v := range sec.Data {
			data[k] = v
		}
	}
	data[key] = value

	if _, err := kv.Put(ctx, rel, data); err != nil {
		return fmt.Errorf("vault put %s: %w", secretPath, err)
	}

	c.cacheMu.Lock()
	delete(c.cache, secretPath+"#"+key)
	c.cacheMu.Unlock()
	return nil
}

// DeleteKV removes the secret at secretPath entirely.  Used when a tenant is
// deleted and its credentials must not remain resolvable.
func (c *Client) DeleteKV(ctx context.Context, secretPath string) error {
	mount, rel := splitMount(secretPath)
	if err := c.api.KVv2(mount).Delete(ctx, rel); err != nil {
		return fmt.Errorf("vault delete %s: %w", secretPath, err)
	}

	c.cacheMu.Lock()
	prefix := secretPath + "#"
	for k := range c.cache {
		if strings.HasPrefix(k, prefix) {
			delete(c.cache, k)
		}
	}
	c.cacheMu.Unlock()
	return nil
}

//
// SECTION 2.  References
//

// Ref builds the opaque reference persisted in control-plane rows:
// "vault:<path>#<key>".
func Ref(secretPath, key string) string {
	return RefPrefix + secretPath + "#" + key
}

// ParseRef splits a reference built by Ref.  ok is false when ref does not
// carry the vault: prefix or lacks a key part.
func ParseRef(ref string) (secretPath, key string, ok bool) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, RefPrefix)
	i := strings.LastIndexByte(rest, '#')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Resolve turns a stored reference back into the plaintext secret.  Only
// internal provisioning paths call this; read APIs return the reference
// untouched.
func (c *Client) Resolve(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	p, k, ok := ParseRef(ref)
	if !ok {
		return "", fmt.Errorf("malformed vault reference %q", redact(ref))
	}
	return c.GetKV(ctx, p, k, ttl)
}

// redact keeps only the prefix of a malformed reference so logs never carry
// a value that might be a literal secret.
func redact(s string) string {
	if len(s) > 12 {
		return s[:12] + "…"
	}
	return s
}

//
// SECTION 3.  Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Probe the current token.
		sec, err := c.api.Auth().Token().RenewSelf(0)
		if err != nil {
			c.logFn("vault: token renew self failed: %v", err)
			backoff(ctx, 30*time.Second)
			continue
		}

		if sec == nil || !sec.Auth.Renewable {
			c.logFn("vault: token is not renewable – sleeping 1h")
			backoff(ctx, time.Hour)
			continue
		}

		renewer, err := c.api.NewRenewer(&vault.RenewerInput{
			Secret: sec,
			Grace:  15 * time.Second,
		})
		if err != nil {
			c.logFn("vault: renewer init error: %v", err)
			backoff(ctx, 30*time.Second)
			continue
		}

		go renewer.Renew()

		for {
			select {
			case <-ctx.Done():
				renewer.Stop()
				return
			case err := <-renewer.DoneCh():
				renewer.Stop()
				if err != nil {
					c.logFn("vault: token renewal stopped: %v", err)
				}
				backoff(ctx, 15*time.Second)
				goto probe
			case ev := <-renewer.RenewCh():
				if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
					c.logFn("vault: token renewed, ttl=%ds", ev.Secret.Auth.LeaseDuration)
				}
			}
		}
	probe:
	}
}

//
// SECTION 4.  Helpers
//

func splitMount(p string) (mount, rel string) {
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
