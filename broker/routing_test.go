package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/justirc/justirc-go/wire"
)

func TestPrivateMessageRelayedVerbatim(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")
	bob := dialClient(t, addr)
	bob.register("bob")
	alice.readType(wire.TypeUserList)

	alice.send(wire.Encrypted{
		Header:        wire.NewHeader(wire.TypePrivateMessage),
		FromID:        "user_alice",
		ToID:          "user_bob",
		EncryptedData: "b64-ciphertext",
		Nonce:         "b64-nonce",
	})
	m := bob.readType(wire.TypePrivateMessage)
	if m["encrypted_data"] != "b64-ciphertext" || m["nonce"] != "b64-nonce" || m["from_id"] != "user_alice" {
		t.Fatalf("relayed envelope = %v", m)
	}
}

func TestPrivateMessageQueuedForOfflineUser(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")

	for _, data := range []string{"first", "second"} {
		alice.send(wire.Encrypted{
			Header:        wire.NewHeader(wire.TypePrivateMessage),
			FromID:        "user_alice",
			ToID:          "user_carol",
			EncryptedData: data,
		})
	}

	// Carol connects later. The strict reply order is: welcome ack, the
	// roster (so sender keys precede their held traffic), the queued
	// envelopes in enqueue order, then the delivery ack.
	carol := dialClient(t, addr)
	carol.send(wire.Register{Header: wire.NewHeader(wire.TypeRegister), Nickname: "carol", PublicKey: "pk-carol"})
	welcome := carol.readType(wire.TypeAck)
	if welcome["user_id"] != "user_carol" {
		t.Fatalf("welcome = %v", welcome)
	}
	roster := carol.readType(wire.TypeUserList)
	if users, _ := roster["users"].([]any); len(users) != 2 {
		t.Fatalf("roster = %v", roster)
	}
	for _, want := range []string{"first", "second"} {
		m := carol.readType(wire.TypePrivateMessage)
		if m["encrypted_data"] != want {
			t.Fatalf("queued replay = %v, want %q", m, want)
		}
	}
	delivered := carol.readType(wire.TypeAck)
	if msg, _ := delivered["message"].(string); msg != "Delivered 2 queued message(s)" {
		t.Fatalf("delivery ack = %q", msg)
	}
}

func TestPrivateMessageUnknownRecipient(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")

	// "carol" lacks the user id shape, so it cannot be queued.
	alice.send(wire.Encrypted{Header: wire.NewHeader(wire.TypePrivateMessage), ToID: "carol", EncryptedData: "x"})
	e := alice.readType(wire.TypeError)
	if errCode(e) != "unknown_user" {
		t.Fatalf("code = %q, want unknown_user", errCode(e))
	}

	// A prefixed id whose nickname part breaks the charset must be refused
	// too: the id would otherwise name a queue spill file.
	alice.send(wire.Encrypted{Header: wire.NewHeader(wire.TypePrivateMessage), ToID: "user_../../oops", EncryptedData: "x"})
	e = alice.readType(wire.TypeError)
	if errCode(e) != "unknown_user" {
		t.Fatalf("code = %q, want unknown_user", errCode(e))
	}

	alice.send(wire.Encrypted{Header: wire.NewHeader(wire.TypePrivateMessage), EncryptedData: "x"})
	e = alice.readType(wire.TypeError)
	if errCode(e) != "invalid_input" {
		t.Fatalf("code = %q, want invalid_input", errCode(e))
	}
}

func TestChannelMessageFanout(t *testing.T) {
	srv, addr := newTestServer(t, nil)
	owner, members := devChannel(t, addr, "alice", "bob", "carol")
	bob, carol := members[0], members[1]

	for i := 0; i < 2; i++ {
		owner.send(wire.Encrypted{
			Header:        wire.NewHeader(wire.TypeChannelMessage),
			FromID:        "user_alice",
			ToID:          "#dev",
			EncryptedData: "round",
			Nonce:         "n",
		})
		for _, c := range []*testClient{bob, carol} {
			m := c.readType(wire.TypeChannelMessage)
			if m["encrypted_data"] != "round" || m["from_id"] != "user_alice" {
				t.Fatalf("fan-out = %v", m)
			}
		}
	}

	// The second send rides the route cache.
	st := srv.Stats()
	if st.RouteCacheMisses != 1 || st.RouteCacheHits < 1 {
		t.Fatalf("route cache hits=%d misses=%d", st.RouteCacheHits, st.RouteCacheMisses)
	}
}

func TestChannelMessageRequiresMembership(t *testing.T) {
	_, addr := newTestServer(t, nil)
	owner, _ := devChannel(t, addr, "alice")
	_ = owner
	mallory := dialClient(t, addr)
	mallory.register("mallory")

	mallory.send(wire.Encrypted{Header: wire.NewHeader(wire.TypeChannelMessage), ToID: "#dev", EncryptedData: "x"})
	e := mallory.readType(wire.TypeError)
	if errCode(e) != "not_in_channel" {
		t.Fatalf("code = %q, want not_in_channel", errCode(e))
	}

	mallory.send(wire.Encrypted{Header: wire.NewHeader(wire.TypeChannelMessage), ToID: "#ghost", EncryptedData: "x"})
	e = mallory.readType(wire.TypeError)
	if errCode(e) != "unknown_channel" {
		t.Fatalf("code = %q, want unknown_channel", errCode(e))
	}
}

func TestRekeyStampsSenderNickname(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")
	bob := dialClient(t, addr)
	bob.register("bob")
	alice.readType(wire.TypeUserList)

	alice.send(wire.Rekey{
		Header:       wire.NewHeader(wire.TypeRekeyRequest),
		FromID:       "user_alice",
		ToID:         "user_bob",
		NewPublicKey: "pk-alice-2",
		FromNickname: "spoofed",
	})
	m := bob.readType(wire.TypeRekeyRequest)
	if m["from_nickname"] != "alice" {
		t.Fatalf("from_nickname = %v, want the broker-stamped alice", m["from_nickname"])
	}
	if m["new_public_key"] != "pk-alice-2" {
		t.Fatalf("rekey payload = %v", m)
	}
}

func TestImageEnvelopesRelayed(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")
	bob := dialClient(t, addr)
	bob.register("bob")
	alice.readType(wire.TypeUserList)

	alice.send(wire.ImageStart{
		Header:            wire.NewHeader(wire.TypeImageStart),
		FromID:            "user_alice",
		ToID:              "user_bob",
		TransferID:        "t1",
		TotalChunks:       1,
		EncryptedMetadata: "meta",
		Nonce:             "n0",
	})
	m := bob.readType(wire.TypeImageStart)
	if m["transfer_id"] != "t1" || m["encrypted_metadata"] != "meta" {
		t.Fatalf("image start = %v", m)
	}

	alice.send(wire.ImageChunk{
		Header:        wire.NewHeader(wire.TypeImageChunk),
		FromID:        "user_alice",
		ToID:          "user_bob",
		TransferID:    "t1",
		ChunkIndex:    0,
		EncryptedData: "b64",
		Nonce:         "n1",
	})
	m = bob.readType(wire.TypeImageChunk)
	if m["transfer_id"] != "t1" || m["encrypted_data"] != "b64" {
		t.Fatalf("image chunk = %v", m)
	}
}

func TestMessageRateLimit(t *testing.T) {
	_, addr := newTestServer(t, nil)
	alice := dialClient(t, addr)
	alice.register("alice")
	bob := dialClient(t, addr)
	bob.register("bob")
	alice.readType(wire.TypeUserList)

	// Drive the per-user budget to exhaustion. The limiter answers with a
	// retry hint instead of dropping the session.
	var limited map[string]any
	for i := 0; i < 200; i++ {
		alice.send(wire.Encrypted{
			Header:        wire.NewHeader(wire.TypePrivateMessage),
			ToID:          "user_bob",
			EncryptedData: "x",
		})
		_ = alice.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		frame, err := alice.r.ReadFrame()
		if err != nil {
			continue // no reply: the message was relayed
		}
		m := decodeFrame(t, frame)
		if m["type"] == string(wire.TypeError) && errCode(m) == "rate_limited" {
			limited = m
			break
		}
	}
	if limited == nil {
		t.Fatal("rate limit never engaged")
	}
	if retry, ok := limited["retry_after_seconds"].(float64); !ok || retry <= 0 {
		t.Fatalf("retry_after_seconds = %v", limited["retry_after_seconds"])
	}
}

func decodeFrame(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	m := make(map[string]any)
	if err := json.Unmarshal(frame, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", frame, err)
	}
	return m
}
