package broker

import (
	"strings"
	"testing"

	"github.com/justirc/justirc-go/wire"
)

// devChannel wires up the standard fixture: alice owns #dev, the others are
// plain members. Every client's stream is left fully drained.
func devChannel(t *testing.T, addr string, nicks ...string) (*testClient, []*testClient) {
	t.Helper()
	owner := dialClient(t, addr)
	owner.register(nicks[0])
	owner.createChannel("#dev", "opensesame")
	members := make([]*testClient, 0, len(nicks)-1)
	for _, nick := range nicks[1:] {
		c := dialClient(t, addr)
		c.register(nick)
		owner.next(wire.TypeUserList)
		for _, prev := range members {
			prev.next(wire.TypeUserList)
		}
		c.join("#dev", "")
		owner.next(wire.TypeJoinChannel)
		for _, prev := range members {
			prev.next(wire.TypeJoinChannel)
		}
		members = append(members, c)
	}
	return owner, members
}

func TestKick(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob", "carol")
	bob, carol := members[0], members[1]

	// A plain member cannot kick.
	bob.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "carol"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "not_operator" {
		t.Fatalf("code = %q, want not_operator", errCode(e))
	}

	owner.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "bob", Reason: "flooding"})
	ackm := owner.readType(wire.TypeAck)
	if msg, _ := ackm["message"].(string); !strings.Contains(msg, "kicked") {
		t.Fatalf("kick ack = %v", ackm)
	}
	notice := bob.readType(wire.TypeKickUser)
	if notice["kicked_by"] != "alice" || notice["reason"] != "flooding" {
		t.Fatalf("kick notice = %v", notice)
	}
	announce := carol.readType(wire.TypeChannelMessage)
	if announce["sender"] != wire.ServerSender {
		t.Fatalf("announcement = %v", announce)
	}
	if text, _ := announce["text"].(string); !strings.Contains(text, "bob was kicked by alice") {
		t.Fatalf("announcement text = %q", text)
	}

	// Kicked means out: sending to the channel now fails.
	bob.send(wire.Encrypted{Header: wire.NewHeader(wire.TypeChannelMessage), ToID: "#dev", EncryptedData: "x", Nonce: "n"})
	e = bob.readType(wire.TypeError)
	if errCode(e) != "not_in_channel" {
		t.Fatalf("code = %q, want not_in_channel", errCode(e))
	}
}

func TestKickRefusals(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]

	owner.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "alice"})
	e := owner.readType(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "yourself") {
		t.Fatalf("self-kick error = %v", e)
	}

	// Promote bob to operator, then verify nobody can kick the owner.
	grantOperator(t, owner, bob, "#dev", "bob", "bobsecret")
	bob.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "alice"})
	e = bob.readType(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "owner") {
		t.Fatalf("owner-kick error = %v", e)
	}
}

func TestModeratorCannotKickOperator(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob", "carol")
	bob, carol := members[0], members[1]

	grantOperator(t, owner, bob, "#dev", "bob", "bobsecret")
	carol.next(wire.TypeOpUser)

	// Owner grants carol a moderator role.
	owner.send(wire.RoleChange{Header: wire.NewHeader(wire.TypeModUser), Channel: "#dev", TargetNickname: "carol"})
	req := carol.next(wire.TypeOpPasswordRequest)
	if req["is_mod"] != true {
		t.Fatalf("mod prompt = %v", req)
	}
	owner.next(wire.TypeAck)
	carol.send(wire.OpPasswordResponse{Header: wire.NewHeader(wire.TypeOpPasswordReply), Channel: "#dev", Password: "carolsecret"})
	carol.next(wire.TypeAck)
	owner.next(wire.TypeModUser)
	bob.next(wire.TypeModUser)

	carol.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "bob"})
	e := carol.readType(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "Moderators cannot kick operators") {
		t.Fatalf("error = %v", e)
	}

	// A moderator may kick a plain member; kick the owner-less direction
	// still works downward.
	dave := dialClient(t, addr)
	dave.register("dave")
	dave.join("#dev", "")
	carol.next(wire.TypeJoinChannel)
	carol.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "dave"})
	carol.next(wire.TypeAck)
	dave.next(wire.TypeKickUser)
}

func TestKickedCredentialSurvives(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]
	grantOperator(t, owner, bob, "#dev", "bob", "bobsecret")

	owner.send(wire.KickUser{Header: wire.NewHeader(wire.TypeKickUser), Channel: "#dev", TargetNickname: "bob"})
	owner.readType(wire.TypeAck)
	bob.next(wire.TypeKickUser)

	// Rejoining still demands the stored role password.
	bob.send(wire.JoinChannel{Header: wire.NewHeader(wire.TypeJoinChannel), Channel: "#dev"})
	req := bob.readType(wire.TypeOpPasswordRequest)
	if req["action"] != "verify" {
		t.Fatalf("rejoin prompt = %v", req)
	}
	bob.send(wire.OpPasswordResponse{Header: wire.NewHeader(wire.TypeOpPasswordReply), Channel: "#dev", Password: "bobsecret"})
	ackm := bob.readType(wire.TypeAck)
	if ackm["is_operator"] != true {
		t.Fatalf("rejoin ack = %v", ackm)
	}
}

func TestUnopRevokesDurably(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]
	grantOperator(t, owner, bob, "#dev", "bob", "bobsecret")

	// Only the owner may demote operators.
	bob.send(wire.RoleChange{Header: wire.NewHeader(wire.TypeUnopUser), Channel: "#dev", TargetNickname: "bob"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "not_owner" {
		t.Fatalf("code = %q, want not_owner", errCode(e))
	}

	owner.send(wire.RoleChange{Header: wire.NewHeader(wire.TypeUnopUser), Channel: "#dev", TargetNickname: "bob"})
	ackm := owner.readType(wire.TypeAck)
	if msg, _ := ackm["message"].(string); !strings.Contains(msg, "no longer") {
		t.Fatalf("unop ack = %v", ackm)
	}
	change := bob.next(wire.TypeUnopUser)
	if change["removed_by"] != "alice" {
		t.Fatalf("unop broadcast = %v", change)
	}

	// The credential is gone: leaving and rejoining prompts nothing.
	bob.send(wire.LeaveChannel{Header: wire.NewHeader(wire.TypeLeaveChannel), Channel: "#dev"})
	bob.readType(wire.TypeAck)
	owner.next(wire.TypeLeaveChannel)
	ackm = bob.join("#dev", "")
	if ackm["is_operator"] == true {
		t.Fatalf("rejoin ack = %v, operator standing should be gone", ackm)
	}
}

func TestBanImplicitKick(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob", "carol")
	bob, carol := members[0], members[1]

	owner.send(wire.BanUser{Header: wire.NewHeader(wire.TypeKickbanUser), Channel: "#dev", TargetNickname: "bob", Reason: "abuse", Duration: 3600})
	owner.readType(wire.TypeAck)
	notice := bob.readType(wire.TypeKickbanUser)
	if notice["banned_by"] != "alice" || notice["reason"] != "abuse" {
		t.Fatalf("ban notice = %v", notice)
	}
	announce := carol.readType(wire.TypeChannelMessage)
	if text, _ := announce["text"].(string); !strings.Contains(text, "banned by alice") {
		t.Fatalf("announcement = %q", text)
	}

	bob.send(wire.JoinChannel{Header: wire.NewHeader(wire.TypeJoinChannel), Channel: "#dev"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "banned" {
		t.Fatalf("code = %q, want banned", errCode(e))
	}
}

func TestUnban(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]

	owner.send(wire.BanUser{Header: wire.NewHeader(wire.TypeBanUser), Channel: "#dev", TargetNickname: "bob"})
	owner.readType(wire.TypeAck)
	bob.next(wire.TypeBanUser)

	owner.send(wire.BanUser{Header: wire.NewHeader(wire.TypeUnbanUser), Channel: "#dev", TargetNickname: "bob"})
	ackm := owner.readType(wire.TypeAck)
	if msg, _ := ackm["message"].(string); !strings.Contains(msg, "unbanned") {
		t.Fatalf("unban ack = %v", ackm)
	}

	ackm = bob.join("#dev", "")
	if ackm["channel"] != "#dev" {
		t.Fatalf("rejoin after unban = %v", ackm)
	}

	owner.send(wire.BanUser{Header: wire.NewHeader(wire.TypeUnbanUser), Channel: "#dev", TargetNickname: "bob"})
	e := owner.next(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "not banned") {
		t.Fatalf("double unban = %v", e)
	}
}

func TestInviteFlow(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, _ := devChannel(t, addr, "alice")
	bob := dialClient(t, addr)
	bob.register("bob")
	owner.next(wire.TypeUserList)

	// Only operators may invite.
	bob.send(wire.InviteUser{Header: wire.NewHeader(wire.TypeInviteUser), Channel: "#dev", TargetNickname: "alice"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "not_operator" {
		t.Fatalf("code = %q, want not_operator", errCode(e))
	}

	owner.send(wire.InviteUser{Header: wire.NewHeader(wire.TypeInviteUser), Channel: "#dev", TargetNickname: "bob"})
	owner.readType(wire.TypeAck)
	inv := bob.readType(wire.TypeInviteUser)
	if inv["inviter_nickname"] != "alice" || inv["channel"] != "#dev" {
		t.Fatalf("invite = %v", inv)
	}

	// Declining informs the inviter through a server notice.
	bob.send(wire.InviteResponse{Header: wire.NewHeader(wire.TypeInviteResponse), Channel: "#dev", InviterNickname: "alice", Accepted: false})
	bob.readType(wire.TypeAck)
	notice := owner.readType(wire.TypeChannelMessage)
	if text, _ := notice["text"].(string); !strings.Contains(text, "declined") {
		t.Fatalf("decline notice = %q", text)
	}

	// Accepting re-enters the join machine.
	bob.send(wire.InviteResponse{Header: wire.NewHeader(wire.TypeInviteResponse), Channel: "#dev", InviterNickname: "alice", Accepted: true})
	ackm := bob.next(wire.TypeAck)
	if ackm["channel"] != "#dev" {
		t.Fatalf("accept join ack = %v", ackm)
	}
	owner.next(wire.TypeJoinChannel)
}

func TestTransferOwnership(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob", "carol")
	bob, carol := members[0], members[1]

	// Target must be an operator.
	owner.send(wire.TransferOwnership{Header: wire.NewHeader(wire.TypeTransferOwnership), Channel: "#dev", TargetNickname: "bob"})
	e := owner.readType(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "operator") {
		t.Fatalf("transfer error = %v", e)
	}

	grantOperator(t, owner, bob, "#dev", "bob", "bobsecret")
	carol.next(wire.TypeOpUser)

	owner.send(wire.TransferOwnership{Header: wire.NewHeader(wire.TypeTransferOwnership), Channel: "#dev", TargetNickname: "bob"})
	ackm := owner.readType(wire.TypeAck)
	if msg, _ := ackm["message"].(string); !strings.Contains(msg, "transferred to bob") {
		t.Fatalf("transfer ack = %v", ackm)
	}
	won := bob.next(wire.TypeAck)
	if won["is_owner"] != true {
		t.Fatalf("new owner ack = %v", won)
	}
	notice := carol.readType(wire.TypeChannelMessage)
	if text, _ := notice["text"].(string); !strings.Contains(text, "transferred ownership") {
		t.Fatalf("announcement = %q", text)
	}

	// Authority actually moved: alice can no longer grant operator status.
	owner.send(wire.RoleChange{Header: wire.NewHeader(wire.TypeOpUser), Channel: "#dev", TargetNickname: "carol"})
	e = owner.readType(wire.TypeError)
	if errCode(e) != "not_owner" {
		t.Fatalf("code = %q, want not_owner", errCode(e))
	}
}

func TestTopicAndModeBroadcast(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]

	bob.send(wire.SetTopic{Header: wire.NewHeader(wire.TypeSetTopic), Channel: "#dev", Topic: "nope"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "not_operator" {
		t.Fatalf("code = %q, want not_operator", errCode(e))
	}

	owner.send(wire.SetTopic{Header: wire.NewHeader(wire.TypeSetTopic), Channel: "#dev", Topic: "ship it"})
	owner.readType(wire.TypeAck)
	m := bob.readType(wire.TypeSetTopic)
	if m["topic"] != "ship it" || m["set_by"] != "alice" {
		t.Fatalf("topic broadcast = %v", m)
	}

	owner.send(wire.SetMode{Header: wire.NewHeader(wire.TypeSetMode), Channel: "#dev", Mode: "m", Enable: true})
	owner.readType(wire.TypeAck)
	mc := bob.readType(wire.TypeModeChange)
	if mc["mode"] != "m" || mc["enable"] != true {
		t.Fatalf("mode broadcast = %v", mc)
	}

	owner.send(wire.SetMode{Header: wire.NewHeader(wire.TypeSetMode), Channel: "#dev", Mode: "z", Enable: true})
	e = owner.readType(wire.TypeError)
	if msg, _ := e["error"].(string); !strings.Contains(msg, "Invalid mode") {
		t.Fatalf("invalid mode error = %v", e)
	}
}

func TestModeratedChannelGatesSends(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob")
	bob := members[0]

	owner.send(wire.SetMode{Header: wire.NewHeader(wire.TypeSetMode), Channel: "#dev", Mode: "m", Enable: true})
	owner.readType(wire.TypeAck)
	bob.readType(wire.TypeModeChange)

	bob.send(wire.Encrypted{Header: wire.NewHeader(wire.TypeChannelMessage), ToID: "#dev", EncryptedData: "x", Nonce: "n"})
	e := bob.readType(wire.TypeError)
	if errCode(e) != "moderated" {
		t.Fatalf("code = %q, want moderated", errCode(e))
	}

	// The owner still speaks.
	owner.send(wire.Encrypted{Header: wire.NewHeader(wire.TypeChannelMessage), ToID: "#dev", EncryptedData: "y", Nonce: "n"})
	m := bob.readType(wire.TypeChannelMessage)
	if m["encrypted_data"] != "y" {
		t.Fatalf("moderated relay = %v", m)
	}
}
