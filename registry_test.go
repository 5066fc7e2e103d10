package schema

import (
	"testing"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(
		NewMigration("10", Script("SELECT 10")),
		NewMigration("9", Script("SELECT 9")),
	)
	if err != nil {
		t.Fatal(err)
	}
	r.MustRegister(createLetters())

	if r.Len() != 3 {
		t.Errorf("Expected 3 migrations, got %d", r.Len())
	}

	expectedOrder := []string{"9", "10", lettersVersion}
	for i, migration := range r.Migrations() {
		expectVersion(t, migration, expectedOrder[i])
	}

	migration, ok := r.Lookup("9")
	if !ok {
		t.Fatal("Expected to find version 9")
	}
	expectScriptMatch(t, migration, `^SELECT 9$`)

	if _, ok := r.Lookup("8"); ok {
		t.Error("Expected version 8 to be missing")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(createLetters())
	if err != nil {
		t.Fatal(err)
	}
	err = r.Register(&Migration{Version: lettersVersion, Up: Script("SELECT 1")})
	expectErrorIs(t, err, ErrInvalidDefinition)
	expectErrorContains(t, err, lettersVersion)

	_, err = NewRegistry(createLetters(), createLetters())
	expectErrorIs(t, err, ErrInvalidDefinition)
}

func TestRegistryRejectsInvalidMigrations(t *testing.T) {
	r, _ := NewRegistry()
	expectErrorIs(t, r.Register(nil), ErrInvalidDefinition)
	expectErrorIs(t, r.Register(&Migration{Version: "1"}), ErrInvalidDefinition)
	if r.Len() != 0 {
		t.Errorf("Expected an empty registry, got %d", r.Len())
	}
}

func TestRegistryMustRegisterPanics(t *testing.T) {
	r, _ := NewRegistry(createLetters())
	defer func() {
		if recover() == nil {
			t.Error("Expected MustRegister to panic on a duplicate version")
		}
	}()
	r.MustRegister(createLetters())
}
