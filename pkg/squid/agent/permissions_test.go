package agent

import "testing"

func TestLookupScopePrecedence(t *testing.T) {
	t.Run("qualified beats bare", func(t *testing.T) {
		store := NewPermissionStore([]string{"bash"}, []string{"bash:rm"})
		effect, found := store.Lookup("bash", "rm -rf build")
		if !found || effect != EffectDeny {
			t.Fatalf("qualified deny should beat bare allow, got %v found=%v", effect, found)
		}

		effect, found = store.Lookup("bash", "git status")
		if !found || effect != EffectAllow {
			t.Fatalf("bare allow should apply to unqualified match, got %v found=%v", effect, found)
		}
	})

	t.Run("deny wins within same level", func(t *testing.T) {
		store := NewPermissionStore([]string{"bash"}, []string{"bash"})
		effect, found := store.Lookup("bash", "ls")
		if !found || effect != EffectDeny {
			t.Fatalf("deny should win over allow at equal specificity, got %v found=%v", effect, found)
		}
	})

	t.Run("no rule no match", func(t *testing.T) {
		store := NewPermissionStore([]string{"read_file"}, nil)
		if _, found := store.Lookup("bash", "ls"); found {
			t.Fatal("lookup for unruled tool must report not found")
		}
	})
}

func TestQualifierMatchesFirstWord(t *testing.T) {
	store := NewPermissionStore([]string{"bash:git"}, nil)

	cases := []struct {
		arg  string
		want bool
	}{
		{"git status", true},
		{"git", true},
		{"git-lfs pull", false},
		{"echo git", false},
	}
	for _, tc := range cases {
		_, found := store.Lookup("bash", tc.arg)
		if found != tc.want {
			t.Errorf("Lookup(bash, %q) found=%v, want %v", tc.arg, found, tc.want)
		}
	}
}

func TestAddPersistsThroughCallback(t *testing.T) {
	store := NewPermissionStore(nil, nil)

	var persisted []PermissionRule
	store.SetPersistFunc(func(rule PermissionRule) error {
		persisted = append(persisted, rule)
		return nil
	})

	if err := store.Add(PermissionRule{Scope: "bash:git", Effect: EffectAllow}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Scope != "bash:git" {
		t.Fatalf("persist callback not invoked correctly: %+v", persisted)
	}

	// Seed must not persist.
	store.Seed(PermissionRule{Scope: "bash:ls", Effect: EffectAllow})
	if len(persisted) != 1 {
		t.Fatalf("Seed must not trigger persistence, got %d rules", len(persisted))
	}
	if len(store.Rules()) != 2 {
		t.Fatalf("expected 2 rules in store, got %d", len(store.Rules()))
	}
}
