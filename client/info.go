package client

import (
	"context"

	"github.com/justirc/justirc-go/wire"
)

// LookupPeer fetches a user's long-term public key from the broker and
// caches it, deriving the pairwise key as a side effect.
func (c *Client) LookupPeer(ctx context.Context, nickname string) (*Peer, error) {
	if nickname == "" {
		return nil, ErrUnknownPeer
	}
	p := &pendingOp{
		match: func(typ wire.Type, _ any) bool { return typ == wire.TypePublicKeyResponse },
	}
	req := wire.PublicKeyRequest{
		Header:         wire.NewHeader(wire.TypePublicKeyRequest),
		TargetNickname: nickname,
	}
	val, err := c.call(ctx, req, p)
	if err != nil {
		return nil, err
	}
	resp := val.(*wire.PublicKeyResponse)
	// Install the answer so the pairwise key is ready for an immediate
	// send and later lookups hit the cache.
	c.mu.Lock()
	c.upsertPeerLocked(resp.UserID, resp.Nickname, resp.PublicKey, true)
	peer := *c.peers[resp.UserID]
	c.mu.Unlock()
	return &peer, nil
}

// Whois asks the broker about a nickname.
func (c *Client) Whois(ctx context.Context, nickname string) (*WhoisInfo, error) {
	if nickname == "" {
		return nil, ErrUnknownPeer
	}
	p := &pendingOp{
		match: func(typ wire.Type, _ any) bool { return typ == wire.TypeWhoisResponse },
	}
	req := wire.Whois{
		Header:         wire.NewHeader(wire.TypeWhois),
		TargetNickname: nickname,
	}
	val, err := c.call(ctx, req, p)
	if err != nil {
		return nil, err
	}
	resp := val.(*wire.WhoisResponse)
	return &WhoisInfo{
		Nickname:      resp.Nickname,
		UserID:        resp.UserID,
		Channels:      resp.Channels,
		Online:        resp.Online,
		Status:        resp.Status,
		StatusMessage: resp.StatusMessage,
	}, nil
}

// ListChannels fetches the public channel directory. Secret channels are
// not listed.
func (c *Client) ListChannels(ctx context.Context) ([]wire.ChannelSummary, error) {
	p := &pendingOp{
		match: func(typ wire.Type, _ any) bool { return typ == wire.TypeChannelListResponse },
	}
	val, err := c.call(ctx, wire.ListChannels{Header: wire.NewHeader(wire.TypeListChannels)}, p)
	if err != nil {
		return nil, err
	}
	return val.(*wire.ChannelListResponse).Channels, nil
}

// GetProfile fetches a stored profile. Registered is false for nicknames
// nobody has claimed.
func (c *Client) GetProfile(ctx context.Context, nickname string) (*Profile, error) {
	if nickname == "" {
		return nil, ErrUnknownPeer
	}
	p := &pendingOp{
		match: func(typ wire.Type, _ any) bool { return typ == wire.TypeProfileResponse },
	}
	req := wire.GetProfile{
		Header:         wire.NewHeader(wire.TypeGetProfile),
		TargetNickname: nickname,
	}
	val, err := c.call(ctx, req, p)
	if err != nil {
		return nil, err
	}
	resp := val.(*wire.ProfileResponse)
	return &Profile{
		Nickname:         resp.Nickname,
		Registered:       resp.Registered,
		Bio:              resp.Bio,
		StatusMessage:    resp.StatusMessage,
		Avatar:           resp.Avatar,
		RegistrationDate: resp.RegistrationDate,
	}, nil
}

// RegisterNickname claims the session's nickname durably with a profile
// password, so future sessions can authenticate against it.
func (c *Client) RegisterNickname(ctx context.Context, password string) error {
	if len(password) < wire.MinAccountPasswordChars {
		return &ProtocolError{Code: CodeInvalidInput, Message: "password too short"}
	}
	p := &pendingOp{
		match: func(typ wire.Type, env any) bool {
			_, ok := env.(*wire.Ack)
			return typ == wire.TypeAck && ok
		},
	}
	req := wire.RegisterNickname{
		Header:   wire.NewHeader(wire.TypeRegisterNickname),
		Nickname: c.nickname,
		Password: password,
	}
	_, err := c.call(ctx, req, p)
	return err
}

// UpdateProfile modifies the stored profile. Nil fields are left
// untouched; pointing at an empty string clears a field.
func (c *Client) UpdateProfile(bio, statusMessage, avatar *string) error {
	if bio != nil {
		if err := wire.CheckLen("bio", *bio, wire.MaxBioChars); err != nil {
			return err
		}
	}
	if statusMessage != nil {
		if err := wire.CheckLen("status message", *statusMessage, wire.MaxStatusChars); err != nil {
			return err
		}
	}
	if avatar != nil {
		if err := wire.CheckLen("avatar", *avatar, wire.MaxAvatarChars); err != nil {
			return err
		}
	}
	return c.write(wire.UpdateProfile{
		Header:        wire.NewHeader(wire.TypeUpdateProfile),
		Bio:           bio,
		StatusMessage: statusMessage,
		Avatar:        avatar,
	})
}
