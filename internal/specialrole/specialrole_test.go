package specialrole

import "testing"

func TestCreateRoleEnforcesLimit(t *testing.T) {
	s := NewStore()
	for i := 0; i < MaxRoles; i++ {
		name := string(rune('a' + i))
		if _, err := s.CreateRole(name, "", nil, nil); err != nil {
			t.Fatalf("role %d: unexpected error: %v", i, err)
		}
	}
	if _, err := s.CreateRole("overflow", "", nil, nil); err != ErrLimitExceeded {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestCreateRoleRejectsInvalidName(t *testing.T) {
	s := NewStore()
	if _, err := s.CreateRole("bad name!", "", nil, nil); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestAssignUserEnforcesLimit(t *testing.T) {
	s := NewStore()
	if _, err := s.CreateRole("viewer", "", []string{"read_file"}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < MaxUserAssignments; i++ {
		uid := string(rune('a')) + string(rune(i))
		if err := s.AssignUser(uid, "viewer"); err != nil {
			t.Fatalf("assignment %d: unexpected error: %v", i, err)
		}
	}
	if err := s.AssignUser("overflow-user", "viewer"); err != ErrLimitExceeded {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestResolveForUserCombinesDirectAndPlatformRoles(t *testing.T) {
	s := NewStore()
	s.CreateRole("viewer", "", []string{"read_file"}, nil)
	s.CreateRole("finance_ro", "", []string{"token_lookup"}, nil)
	s.AssignUser("u1", "viewer")
	s.AssignPlatformRole("discord-role-42", "finance_ro")

	roles := s.ResolveForUser("u1", []string{"discord-role-42"})
	if len(roles) != 2 {
		t.Fatalf("expected 2 resolved roles, got %d", len(roles))
	}
	tools := AllowedToolSet(roles)
	if _, ok := tools["read_file"]; !ok {
		t.Fatal("expected read_file in allowed tool set")
	}
	if _, ok := tools["token_lookup"]; !ok {
		t.Fatal("expected token_lookup in allowed tool set")
	}
}

func TestDeleteRoleCascadesAssignments(t *testing.T) {
	s := NewStore()
	s.CreateRole("viewer", "", nil, nil)
	s.AssignUser("u1", "viewer")

	if err := s.DeleteRole("viewer"); err != nil {
		t.Fatal(err)
	}
	roles := s.ResolveForUser("u1", nil)
	if len(roles) != 0 {
		t.Fatalf("expected assignment to be cascaded away, got %v", roles)
	}
}
