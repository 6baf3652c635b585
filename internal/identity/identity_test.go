package identity

import (
	"testing"

	"github.com/tidelock/bittern/internal/config"
)

func TestResolveProvisioned(t *testing.T) {
	provider := NewStaticProvider([]config.UserRecord{
		{Username: "admin", UID: 1001, GID: 1001, Home: "/home/admin"},
	})
	r := NewResolver(provider, "/home")

	id := r.Resolve("admin")
	if id.Synthetic {
		t.Fatal("provisioned user marked synthetic")
	}
	if id.UID != 1001 || id.GID != 1001 || id.Home != "/home/admin" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestResolveSyntheticDeterministic(t *testing.T) {
	r := NewResolver(NewStaticProvider(nil), "/home")

	first := r.Resolve("intruder")
	second := r.Resolve("intruder")

	if !first.Synthetic {
		t.Fatal("unknown user not marked synthetic")
	}
	if first.UID != second.UID || first.GID != second.GID || first.Home != second.Home {
		t.Fatalf("synthetic identity not stable: %+v vs %+v", first, second)
	}
	if first.UID < 1000 {
		t.Fatalf("synthetic uid %d below user range", first.UID)
	}
	if first.Home != "/home/intruder" {
		t.Fatalf("home = %q", first.Home)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	r := NewResolver(NewStaticProvider(nil), "/home")

	for _, name := range []string{"", "../../etc", "a b c", "root"} {
		id := r.Resolve(name)
		if id.Home == "" {
			t.Fatalf("empty home for %q", name)
		}
		if id.UID == 0 && name != "" {
			t.Fatalf("zero uid for %q", name)
		}
	}

	if home := r.Resolve("root").Home; home != "/root" {
		t.Fatalf("root home = %q", home)
	}
	if home := r.Resolve("../../etc").Home; home != "/home/....etc" {
		// separators must not survive into the fabricated path
		t.Fatalf("escaped home = %q", home)
	}
}

func TestSyntheticUsersDiffer(t *testing.T) {
	r := NewResolver(NewStaticProvider(nil), "/home")
	a := r.Resolve("alpha")
	b := r.Resolve("beta")
	if a.UID == b.UID && a.Home == b.Home {
		t.Fatal("distinct usernames produced identical identities")
	}
}

func TestResolveNilProvider(t *testing.T) {
	r := NewResolver(nil, "/home")

	id := r.Resolve("intruder")
	if id == nil {
		t.Fatal("nil identity")
	}
	if !id.Synthetic {
		t.Fatal("unknown user not marked synthetic")
	}
	if id.Home != "/home/intruder" {
		t.Fatalf("home = %q", id.Home)
	}
	if again := r.Resolve("intruder"); again.UID != id.UID {
		t.Fatalf("synthetic uid not stable: %d vs %d", again.UID, id.UID)
	}
}
