package data

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

func seedRandomAccounts(t *testing.T, db *gorm.DB) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if err := CreateAccount(db, generateAccount(t)); err != nil {
			t.Fatalf("error seeding test account: %v", err)
		}
	}
}

func generateAccount(t *testing.T) *Account {
	t.Helper()
	return &Account{
		Name:           strconv.Itoa(rand.Int()),
		PasswordBcrypt: strconv.Itoa(rand.Int()),
		Email:          fmt.Sprintf("%d@%d.c", rand.Int(), rand.Int()),
		Privileges:     1,
	}
}

func assertAccountsMatch(t *testing.T, expected *Account, got *Account) {
	t.Helper()
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("account did not match expected; diff:\n%s", diff)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"Cookiezi":       "cookiezi",
		"White Cat":      "white_cat",
		"a B c D":        "a_b_c_d",
		"already_safe":   "already_safe",
		"Trailing Space": "trailing_space",
	}

	for name, want := range tests {
		if got := SafeName(name); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFindAccountByName(t *testing.T) {
	db := setUpDatabase(t)
	seedRandomAccounts(t, db)

	account := &Account{Name: "White Cat", PasswordBcrypt: "hash", Email: "w@c.c", Privileges: 3}
	if err := CreateAccount(db, account); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	tests := []struct {
		name       string
		lookupName string
		want       *Account
	}{
		{name: "account does not exist", lookupName: "nonexistent", want: nil},
		{name: "lookup by exact name", lookupName: "White Cat", want: account},
		{name: "lookup is case and space insensitive", lookupName: "wHiTe cAt", want: account},
		{name: "lookup by safe name", lookupName: "white_cat", want: account},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindAccountByName(db, tt.lookupName)
			if err != nil {
				t.Fatalf("FindAccountByName returned error: %v", err)
			}
			assertAccountsMatch(t, tt.want, got)
		})
	}
}

func TestCreateAccountDerivesSafeName(t *testing.T) {
	db := setUpDatabase(t)

	account := &Account{Name: "Some Player", PasswordBcrypt: "hash", Email: "s@p.c"}
	if err := CreateAccount(db, account); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	if account.SafeName != "some_player" {
		t.Errorf("expected safe name = some_player, got = %s", account.SafeName)
	}
}

func TestUpdateAccountPrivileges(t *testing.T) {
	db := setUpDatabase(t)

	account := generateAccount(t)
	if err := CreateAccount(db, account); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	if err := UpdateAccountPrivileges(db, account.ID, 7); err != nil {
		t.Fatalf("UpdateAccountPrivileges returned error: %v", err)
	}

	got, err := FindAccountByID(db, account.ID)
	if err != nil {
		t.Fatalf("FindAccountByID returned error: %v", err)
	}
	if got.Privileges != 7 {
		t.Errorf("expected privileges = 7, got = %d", got.Privileges)
	}
}

func TestFriendships(t *testing.T) {
	db := setUpDatabase(t)

	if err := AddFriend(db, 2, 3); err != nil {
		t.Fatalf("AddFriend returned error: %v", err)
	}
	if err := AddFriend(db, 2, 5); err != nil {
		t.Fatalf("AddFriend returned error: %v", err)
	}
	// A second add of the same pair should not create a duplicate row.
	if err := AddFriend(db, 2, 3); err != nil {
		t.Fatalf("AddFriend returned error: %v", err)
	}

	ids, err := FindFriendIDs(db, 2)
	if err != nil {
		t.Fatalf("FindFriendIDs returned error: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if diff := cmp.Diff([]int32{3, 5}, ids); diff != "" {
		t.Errorf("friend ids did not match expected; diff:\n%s", diff)
	}

	if err := RemoveFriend(db, 2, 3); err != nil {
		t.Fatalf("RemoveFriend returned error: %v", err)
	}
	ids, err = FindFriendIDs(db, 2)
	if err != nil {
		t.Fatalf("FindFriendIDs returned error: %v", err)
	}
	if diff := cmp.Diff([]int32{5}, ids); diff != "" {
		t.Errorf("friend ids did not match expected; diff:\n%s", diff)
	}
}
