// internal/vault/vault_test.go
//
// Unit-tests for the reference helpers.  Network paths need a live Vault
// and are out of scope here.
//
// Run: go test ./internal/vault -v

package vault

import "testing"

func TestRefRoundTrip(t *testing.T) {
	ref := Ref("tenants/1a2b3c4d", "database_password")
	if ref != "vault:tenants/1a2b3c4d#database_password" {
		t.Fatalf("ref = %q", ref)
	}

	p, k, ok := ParseRef(ref)
	if !ok || p != "tenants/1a2b3c4d" || k != "database_password" {
		t.Fatalf("parse = (%q, %q, %v)", p, k, ok)
	}
}

func TestParseRef_Malformed(t *testing.T) {
	for _, ref := range []string{
		"",
		"plaintext-password",
		"vault:",
		"vault:no-key-part",
		"vault:path#",
		"vault:#key",
	} {
		if _, _, ok := ParseRef(ref); ok {
			t.Errorf("ParseRef(%q) should fail", ref)
		}
	}
}

func TestSplitMount(t *testing.T) {
	cases := []struct{ in, mount, rel string }{
		{"tenants/1a2b3c4d", "tenants", "1a2b3c4d"},
		{"secret/data/deep/path", "secret", "data/deep/path"},
		{"flat", "flat", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		mount, rel := splitMount(c.in)
		if mount != c.mount || rel != c.rel {
			t.Errorf("splitMount(%q) = (%q, %q), want (%q, %q)", c.in, mount, rel, c.mount, c.rel)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := redact("vault:tenants/secret#key"); got != "vault:tenant…" {
		t.Errorf("redact = %q", got)
	}
	if got := redact("short"); got != "short" {
		t.Errorf("short input must pass through, got %q", got)
	}
}
