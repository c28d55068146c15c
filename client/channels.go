package client

import (
	"context"
	"time"

	"github.com/justirc/justirc-go/wire"
)

// Join enters a channel, creating it when opts.CreatorPassword is set and
// the channel does not exist. The broker may interject role password
// prompts before completing; see JoinOptions for how they are answered.
// The returned ChannelInfo reflects the membership at completion.
func (c *Client) Join(ctx context.Context, channel string, opts JoinOptions) (ChannelInfo, error) {
	name := normalizeChannel(channel)
	if name == "" {
		return ChannelInfo{}, ErrNotInChannel
	}
	p := &pendingOp{
		channel: name,
		match: func(_ wire.Type, env any) bool {
			info, ok := env.(ChannelInfo)
			return ok && info.Name == name
		},
		prompt: c.joinPrompt(opts),
	}
	req := wire.JoinChannel{
		Header:          wire.NewHeader(wire.TypeJoinChannel),
		Channel:         name,
		Password:        opts.Password,
		CreatorPassword: opts.CreatorPassword,
	}
	val, err := c.call(ctx, req, p)
	if err != nil {
		return ChannelInfo{}, err
	}
	return val.(ChannelInfo), nil
}

// joinPrompt builds the answer chain for prompts arriving during a join:
// the creator password doubles as the role credential on a set, then the
// per-call fields and callbacks in precedence order.
func (c *Client) joinPrompt(opts JoinOptions) func(CredentialRequest) (string, error) {
	return func(req CredentialRequest) (string, error) {
		if req.Action == wire.OpPasswordActionSet && opts.CreatorPassword != "" {
			return opts.CreatorPassword, nil
		}
		if opts.RolePassword != "" {
			return opts.RolePassword, nil
		}
		if opts.Credential != nil {
			return opts.Credential(req)
		}
		if c.cfg.credentials != nil {
			return c.cfg.credentials(req)
		}
		return "", ErrCredentialRequired
	}
}

// Leave exits a channel. Local state is dropped immediately; the broker's
// ack arrives as an AckEvent.
func (c *Client) Leave(channel string) error {
	name := normalizeChannel(channel)
	c.mu.Lock()
	_, member := c.channels[name]
	c.mu.Unlock()
	if !member {
		return ErrNotInChannel
	}
	err := c.write(wire.LeaveChannel{
		Header:  wire.NewHeader(wire.TypeLeaveChannel),
		Channel: name,
	})
	if err != nil {
		return err
	}
	c.dropChannel(name)
	return nil
}

// Op grants operator to a channel member. The target is prompted to set a
// role password; the grant takes effect once they answer.
func (c *Client) Op(channel, nickname string) error {
	return c.roleChange(wire.TypeOpUser, channel, nickname)
}

// Unop removes a member's operator role.
func (c *Client) Unop(channel, nickname string) error {
	return c.roleChange(wire.TypeUnopUser, channel, nickname)
}

// Mod grants moderator to a channel member.
func (c *Client) Mod(channel, nickname string) error {
	return c.roleChange(wire.TypeModUser, channel, nickname)
}

// Unmod removes a member's moderator role.
func (c *Client) Unmod(channel, nickname string) error {
	return c.roleChange(wire.TypeUnmodUser, channel, nickname)
}

func (c *Client) roleChange(typ wire.Type, channel, nickname string) error {
	if nickname == "" {
		return ErrUnknownPeer
	}
	return c.write(wire.RoleChange{
		Header:         wire.NewHeader(typ),
		Channel:        normalizeChannel(channel),
		TargetNickname: nickname,
	})
}

// Kick removes a member from a channel.
func (c *Client) Kick(channel, nickname, reason string) error {
	if nickname == "" {
		return ErrUnknownPeer
	}
	return c.write(wire.KickUser{
		Header:         wire.NewHeader(wire.TypeKickUser),
		Channel:        normalizeChannel(channel),
		TargetNickname: nickname,
		Reason:         reason,
	})
}

// Ban bars a user from a channel. A zero duration is permanent.
func (c *Client) Ban(channel, nickname, reason string, d time.Duration) error {
	return c.banChange(wire.TypeBanUser, channel, nickname, reason, d)
}

// Unban lifts a ban.
func (c *Client) Unban(channel, nickname string) error {
	return c.banChange(wire.TypeUnbanUser, channel, nickname, "", 0)
}

// Kickban removes a member and bans them in one step.
func (c *Client) Kickban(channel, nickname, reason string, d time.Duration) error {
	return c.banChange(wire.TypeKickbanUser, channel, nickname, reason, d)
}

func (c *Client) banChange(typ wire.Type, channel, nickname, reason string, d time.Duration) error {
	if nickname == "" {
		return ErrUnknownPeer
	}
	return c.write(wire.BanUser{
		Header:         wire.NewHeader(typ),
		Channel:        normalizeChannel(channel),
		TargetNickname: nickname,
		Reason:         reason,
		Duration:       d.Seconds(),
	})
}

// Invite asks the broker to deliver a channel invitation to a user.
func (c *Client) Invite(channel, nickname string) error {
	if nickname == "" {
		return ErrUnknownPeer
	}
	return c.write(wire.InviteUser{
		Header:         wire.NewHeader(wire.TypeInviteUser),
		Channel:        normalizeChannel(channel),
		TargetNickname: nickname,
	})
}

// AcceptInvite accepts a pending invitation. The broker runs the normal
// join flow, so a protected channel still prompts through the configured
// credential callback.
func (c *Client) AcceptInvite(ctx context.Context, channel string) (ChannelInfo, error) {
	name := normalizeChannel(channel)
	p := &pendingOp{
		channel: name,
		match: func(_ wire.Type, env any) bool {
			info, ok := env.(ChannelInfo)
			return ok && info.Name == name
		},
		prompt: c.joinPrompt(JoinOptions{}),
	}
	req := wire.InviteResponse{
		Header:   wire.NewHeader(wire.TypeInviteResponse),
		Channel:  name,
		Accepted: true,
	}
	val, err := c.call(ctx, req, p)
	if err != nil {
		return ChannelInfo{}, err
	}
	return val.(ChannelInfo), nil
}

// DeclineInvite declines an invitation. The inviter nickname routes the
// decline notice back to whoever asked.
func (c *Client) DeclineInvite(channel, inviter string) error {
	return c.write(wire.InviteResponse{
		Header:          wire.NewHeader(wire.TypeInviteResponse),
		Channel:         normalizeChannel(channel),
		InviterNickname: inviter,
		Accepted:        false,
	})
}

// TransferOwnership reassigns the channel to an existing operator. The new
// owner learns of it through an OwnershipEvent.
func (c *Client) TransferOwnership(channel, nickname string) error {
	if nickname == "" {
		return ErrUnknownPeer
	}
	return c.write(wire.TransferOwnership{
		Header:         wire.NewHeader(wire.TypeTransferOwnership),
		Channel:        normalizeChannel(channel),
		TargetNickname: nickname,
	})
}

// SetTopic replaces a channel's topic.
func (c *Client) SetTopic(channel, topic string) error {
	if err := wire.CheckLen("topic", topic, wire.MaxTopicChars); err != nil {
		return err
	}
	return c.write(wire.SetTopic{
		Header:  wire.NewHeader(wire.TypeSetTopic),
		Channel: normalizeChannel(channel),
		Topic:   topic,
	})
}

// SetMode toggles a channel mode flag.
func (c *Client) SetMode(channel, mode string, enable bool) error {
	if !wire.ValidMode(mode) {
		return &ProtocolError{Code: CodeInvalidInput, Message: "unknown mode " + mode}
	}
	return c.write(wire.SetMode{
		Header:  wire.NewHeader(wire.TypeSetMode),
		Channel: normalizeChannel(channel),
		Mode:    mode,
		Enable:  enable,
	})
}

// RespondCredential answers an outstanding role password prompt for a
// channel, for callers handling CredentialEvent themselves.
func (c *Client) RespondCredential(channel, password string) error {
	return c.write(wire.OpPasswordResponse{
		Header:   wire.NewHeader(wire.TypeOpPasswordReply),
		Channel:  normalizeChannel(channel),
		Password: password,
	})
}
