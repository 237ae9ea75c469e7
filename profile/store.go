// Package profile stores per-user voice preferences in Redis.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "dex-tts-service:profile:"

// ErrInvalidSpeed is returned by SetVoice for speeds outside 0.5 to 2.
var ErrInvalidSpeed = errors.New("speed must be between 0.5 and 2")

type Store struct {
	Redis    *redis.Client
	defaults Voice
}

// NewStore creates a store. r may be nil, in which case every user gets
// defaults and SetVoice fails.
func NewStore(r *redis.Client, defaults Voice) *Store {
	return &Store{Redis: r, defaults: defaults}
}

// Get returns the stored profile, or nil when the user has none.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	if s.Redis == nil {
		return nil, nil
	}
	data, err := s.Redis.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("could not decode profile for %s: %w", userID, err)
	}
	return &p, nil
}

// Save stores p with no expiry.
func (s *Store) Save(ctx context.Context, p *Profile) error {
	if s.Redis == nil {
		return errors.New("profile store has no redis connection")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, keyPrefix+p.UserID, data, 0).Err()
}

// Voice returns the voice for userID with defaults filled in. Lookup errors
// are logged and the defaults used.
func (s *Store) Voice(ctx context.Context, userID string) Voice {
	v := s.defaults
	p, err := s.Get(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("component", "profile").Str("user", userID).Msg("Could not load profile")
		return v
	}
	if p == nil {
		return v
	}
	if p.Voice.Speaker != "" {
		v.Speaker = p.Voice.Speaker
	}
	if p.Voice.Speed > 0 {
		v.Speed = p.Voice.Speed
	}
	return v
}

// SetVoice updates the user's voice. Empty fields keep the stored value.
func (s *Store) SetVoice(ctx context.Context, userID string, v Voice) (Voice, error) {
	if v.Speed != 0 && (v.Speed < 0.5 || v.Speed > 2) {
		return Voice{}, ErrInvalidSpeed
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return Voice{}, err
	}
	if p == nil {
		p = &Profile{UserID: userID}
	}
	if v.Speaker != "" {
		p.Voice.Speaker = v.Speaker
	}
	if v.Speed != 0 {
		p.Voice.Speed = v.Speed
	}
	if err := s.Save(ctx, p); err != nil {
		return Voice{}, err
	}
	return s.Voice(ctx, userID), nil
}
