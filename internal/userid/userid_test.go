package userid

import (
	"errors"
	"testing"
)

func TestFromNicknameDeterministic(t *testing.T) {
	if got := FromNickname("alice"); got != "user_alice" {
		t.Fatalf("FromNickname(alice)=%q", got)
	}
	if FromNickname("alice") != FromNickname("alice") {
		t.Fatal("same nickname produced different ids")
	}
}

func TestNicknameRoundTrip(t *testing.T) {
	nick, ok := Nickname(FromNickname("bob"))
	if !ok || nick != "bob" {
		t.Fatalf("Nickname round trip: %q %v", nick, ok)
	}
	if _, ok := Nickname("bob"); ok {
		t.Fatal("Nickname accepted id without prefix")
	}
}

func TestValidateNickname(t *testing.T) {
	cases := []struct {
		nick    string
		wantErr error
	}{
		{"alice", nil},
		{"Bob_42", nil},
		{"a-b", nil},
		{"", ErrEmpty},
		{"ab", ErrLength},
		{"abcdefghijklmnopqrstu", ErrLength},
		{"no spaces", ErrBadChar},
		{"héllo", ErrBadChar},
		{"admin", ErrReserved},
		{"SERVER", ErrReserved},
	}
	for _, tc := range cases {
		err := ValidateNickname(tc.nick)
		if tc.wantErr == nil {
			if err != nil {
				t.Errorf("ValidateNickname(%q)=%v want nil", tc.nick, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ValidateNickname(%q)=%v want %v", tc.nick, err, tc.wantErr)
		}
	}
}
