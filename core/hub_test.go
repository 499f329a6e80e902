package core

import "testing"

func newTestHub() *Hub {
	return NewHub(NewStore(), NewRouter())
}

func TestCreateUserLoginLogoutTrustGating(t *testing.T) {
	h := newTestHub()
	id := Identity{1}

	auth, err := h.CreateUser(id)
	if err != nil {
		t.Fatalf("create_user: %v", err)
	}
	if err := h.Trusted(auth); err != nil {
		t.Fatalf("expected freshly created session to be trusted: %v", err)
	}

	if err := h.Logout(auth); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.Trusted(auth); err == nil {
		t.Fatalf("expected logged-out token to be rejected")
	}

	reAuth, err := h.Login(id)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if reAuth.Token == auth.Token {
		t.Fatalf("expected login to mint a fresh token")
	}
	if err := h.Trusted(reAuth); err != nil {
		t.Fatalf("expected re-login session to be trusted: %v", err)
	}
	if err := h.Trusted(auth); err == nil {
		t.Fatalf("expected the stale pre-logout token to no longer validate")
	}
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	h := newTestHub()
	id := Identity{2}
	if _, err := h.CreateUser(id); err != nil {
		t.Fatalf("create_user: %v", err)
	}
	if _, err := h.CreateUser(id); err == nil {
		t.Fatalf("expected duplicate create_user to fail")
	}
}

func TestUpdateUserAppliesOwnProfileOnly(t *testing.T) {
	h := newTestHub()
	id := Identity{3}
	auth, err := h.CreateUser(id)
	if err != nil {
		t.Fatalf("create_user: %v", err)
	}

	if err := h.UpdateUser(auth, DisplayNameUpdate("alice")); err != nil {
		t.Fatalf("update_user: %v", err)
	}
	if err := h.UpdateUser(auth, SetBioLineUpdate("status", "away")); err != nil {
		t.Fatalf("update_user bio: %v", err)
	}

	u, err := h.GetUser(id)
	if err != nil {
		t.Fatalf("get_user: %v", err)
	}
	if u.DisplayName != "alice" {
		t.Fatalf("expected display name alice, got %q", u.DisplayName)
	}
	if u.Bio["status"] != "away" {
		t.Fatalf("expected bio status=away, got %q", u.Bio["status"])
	}

	bogus := UserAuth{ID: id, Token: auth.Token + "x"}
	if err := h.UpdateUser(bogus, DisplayNameUpdate("mallory")); err == nil {
		t.Fatalf("expected update_user to reject a forged token")
	}
}

func TestListUsersIncludesEveryCreatedUser(t *testing.T) {
	h := newTestHub()
	for i := byte(1); i <= 3; i++ {
		if _, err := h.CreateUser(Identity{i}); err != nil {
			t.Fatalf("create_user %d: %v", i, err)
		}
	}
	if got := len(h.ListUsers()); got != 3 {
		t.Fatalf("expected 3 users, got %d", got)
	}
}

func TestContactLifecycleAndAllContactsIsARealListing(t *testing.T) {
	h := newTestHub()
	owner := Identity{4}
	auth, err := h.CreateUser(owner)
	if err != nil {
		t.Fatalf("create_user: %v", err)
	}

	friend := Identity{5}
	stranger := Identity{6}
	if err := h.AddContact(auth, friend, TrustTrusted); err != nil {
		t.Fatalf("add_contact friend: %v", err)
	}
	if err := h.AddContact(auth, stranger, TrustKnown); err != nil {
		t.Fatalf("add_contact stranger: %v", err)
	}
	if err := h.AddContact(auth, friend, TrustTrusted); err == nil {
		t.Fatalf("expected duplicate add_contact to fail")
	}

	got, err := h.GetContact(auth, friend)
	if err != nil {
		t.Fatalf("get_contact: %v", err)
	}
	if got.Trust != TrustTrusted {
		t.Fatalf("expected TrustTrusted, got %v", got.Trust)
	}

	trusted, err := h.QueryContacts(auth, TrustTrusted)
	if err != nil {
		t.Fatalf("query_contacts: %v", err)
	}
	if len(trusted) != 1 || trusted[0].ID != friend {
		t.Fatalf("expected only the trusted contact, got %+v", trusted)
	}

	all, err := h.AllContacts(auth)
	if err != nil {
		t.Fatalf("all_contacts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected all_contacts to list both contacts, got %d", len(all))
	}
}

func TestRegisterServiceIsIdempotentlyRejectedOnDuplicate(t *testing.T) {
	h := newTestHub()
	if err := h.RegisterService("net.mistnet.chat"); err != nil {
		t.Fatalf("register_service: %v", err)
	}
	if !h.HasService("net.mistnet.chat") {
		t.Fatalf("expected service to be registered")
	}
	if err := h.RegisterService("net.mistnet.chat"); err == nil {
		t.Fatalf("expected duplicate register_service to fail")
	}
}

func TestDeleteUserClearsSessionAndContacts(t *testing.T) {
	h := newTestHub()
	id := Identity{7}
	auth, err := h.CreateUser(id)
	if err != nil {
		t.Fatalf("create_user: %v", err)
	}
	if err := h.AddContact(auth, Identity{8}, TrustKnown); err != nil {
		t.Fatalf("add_contact: %v", err)
	}

	if err := h.DeleteUser(auth); err != nil {
		t.Fatalf("delete_user: %v", err)
	}
	if _, err := h.GetUser(id); err == nil {
		t.Fatalf("expected deleted user to be gone")
	}
	if err := h.Trusted(auth); err == nil {
		t.Fatalf("expected deleted user's token to no longer validate")
	}
}
