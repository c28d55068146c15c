package channelstore

import (
	"encoding/json"
	"fmt"
	"os"
)

// diskRecord is the normalized on-disk shape of one channel.
type diskRecord struct {
	JoinPasswordHash    string                `json:"join_password_hash,omitempty"`
	CreatorPasswordHash string                `json:"creator_password_hash,omitempty"`
	OperatorPasswords   map[string]Credential `json:"operator_passwords,omitempty"`
	Owner               string                `json:"owner,omitempty"`
	Banned              map[string]Ban        `json:"banned,omitempty"`
	Topic               string                `json:"topic,omitempty"`
	Modes               []string              `json:"modes,omitempty"`
	ChannelKey          string                `json:"channel_key,omitempty"`
}

// rawRecord tolerates the two legacy shapes on load: flat-string role
// credentials and set-style ban lists.
type rawRecord struct {
	JoinPasswordHash    string                     `json:"join_password_hash"`
	CreatorPasswordHash string                     `json:"creator_password_hash"`
	OperatorPasswords   map[string]json.RawMessage `json:"operator_passwords"`
	Owner               string                     `json:"owner"`
	Banned              json.RawMessage            `json:"banned"`
	Topic               string                     `json:"topic"`
	Modes               []string                   `json:"modes"`
	ChannelKey          string                     `json:"channel_key"`
}

func (s *Store) marshalLocked() ([]byte, error) {
	out := make(map[string]diskRecord, len(s.records))
	for name, r := range s.records {
		d := diskRecord{
			JoinPasswordHash:    r.JoinPasswordHash,
			CreatorPasswordHash: r.CreatorPasswordHash,
			Owner:               r.Owner,
			Topic:               r.Topic,
			Modes:               r.ModeList(),
			ChannelKey:          r.ChannelKey,
		}
		if len(r.Credentials) > 0 {
			d.OperatorPasswords = r.Credentials
		}
		if len(r.Bans) > 0 {
			d.Banned = r.Bans
		}
		out[name] = d
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw map[string]rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("channelstore: parse %s: %w", s.path, err)
	}
	now := s.nowUnix()
	for name, rr := range raw {
		r := newRecord()
		r.JoinPasswordHash = rr.JoinPasswordHash
		r.CreatorPasswordHash = rr.CreatorPasswordHash
		r.Owner = rr.Owner
		r.Topic = rr.Topic
		r.ChannelKey = rr.ChannelKey
		for _, m := range rr.Modes {
			r.Modes[m] = true
		}
		for uid, cr := range rr.OperatorPasswords {
			cred, ok := decodeCredential(cr)
			if !ok {
				s.log.Warnf("channel %s: dropping unreadable credential for %s", name, uid)
				continue
			}
			r.Credentials[uid] = cred
		}
		for uid, ban := range decodeBans(rr.Banned, now) {
			r.Bans[uid] = ban
		}
		s.records[name] = r
	}
	s.log.Infof("loaded %d channel record(s) from %s", len(s.records), s.path)
	return nil
}

// decodeCredential accepts the normalized {password, role} object or the
// legacy flat hash string, which always meant operator.
func decodeCredential(raw json.RawMessage) (Credential, bool) {
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		return Credential{PasswordHash: legacy, Role: RoleOperator}, true
	}
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil || c.PasswordHash == "" {
		return Credential{}, false
	}
	if c.Role == "" {
		c.Role = RoleOperator
	}
	return c, true
}

// decodeBans accepts the normalized uid->record map or the legacy set of
// banned uids, which becomes permanent records marked as legacy.
func decodeBans(raw json.RawMessage, now float64) map[string]Ban {
	out := make(map[string]Ban)
	if len(raw) == 0 {
		return out
	}
	var m map[string]Ban
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var set []string
	if err := json.Unmarshal(raw, &set); err != nil {
		return out
	}
	for _, uid := range set {
		out[uid] = Ban{Reason: "legacy", Timestamp: now, ExpiresAt: nil}
	}
	return out
}
