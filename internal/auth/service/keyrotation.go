package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// KeyRotationService rotates and retires JWT signing keys at runtime.
//
// In ephemeral mode (Store == nil) keys live only in the KeyService;
// retired keys keep verifying until restart. In persistent mode private
// key PEM is sealed with the KeyCipher and written to the store, so keys
// survive restarts and retired keys verify through a grace period.
type KeyRotationService struct {
	Store       store.Store        // nil for ephemeral mode
	Keys        *jwtx.KeyService   // required in both modes
	Cipher      *cryptox.KeyCipher // required in persistent mode
	GracePeriod time.Duration
}

// RotateKeyRequest asks for a new signing key. RetireExisting additionally
// retires every currently active key, leaving only the new one signing.
type RotateKeyRequest struct {
	RetireExisting bool `json:"retire_existing"`
}

// RotateKeyResponse reports the rotation outcome.
type RotateKeyResponse struct {
	NewKid      string   `json:"new_kid"`
	RetiredKids []string `json:"retired_kids,omitempty"`
}

func (s *KeyRotationService) gracePeriod() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return 30 * 24 * time.Hour
}

// RotateKey mints a new signing key, makes it current, and optionally
// retires its predecessors.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	log := slogx.FromContext(ctx)

	if s.Keys == nil {
		return nil, fmt.Errorf("key service is required")
	}

	previousKid := s.Keys.SigningKID()

	pemData, err := s.Keys.Rotate()
	if err != nil {
		return nil, fmt.Errorf("failed to rotate signing key: %w", err)
	}
	newKid := s.Keys.SigningKID()

	now := time.Now().UTC()
	var retired []string

	if s.Store != nil {
		if s.Cipher == nil {
			return nil, fmt.Errorf("key cipher is required in persistent mode")
		}
		sealed, err := s.Cipher.Seal(pemData)
		if err != nil {
			return nil, fmt.Errorf("failed to seal private key: %w", err)
		}

		record := domain.SigningKey{
			ID:                  idx.New().String(),
			Kid:                 newKid,
			Algorithm:           s.Keys.Algorithm(),
			PrivateKeyEncrypted: sealed,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.gracePeriod()),
		}

		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, record); err != nil {
				return fmt.Errorf("failed to persist signing key: %w", err)
			}
			if !req.RetireExisting {
				return nil
			}
			active, err := tx.SigningKeys().ListActiveSigningKeys(ctx)
			if err != nil {
				return fmt.Errorf("failed to list active keys: %w", err)
			}
			for _, key := range active {
				if key.Kid == newKid {
					continue
				}
				if err := tx.SigningKeys().RetireSigningKey(ctx, key.Kid); err != nil {
					return fmt.Errorf("failed to retire key %s: %w", key.Kid, err)
				}
				retired = append(retired, key.Kid)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else if req.RetireExisting && previousKid != "" {
		retired = append(retired, previousKid)
	}

	// Retired keys keep verifying through the keyset until the grace
	// period ends; Retire only stops them signing.
	for _, kid := range retired {
		if err := s.Keys.Retire(kid); err != nil {
			log.Warn("kid not present in key service", "kid", kid, "err", err)
		}
	}

	log.Info("signing key rotated", "new_kid", newKid, "retired", len(retired))
	return &RotateKeyResponse{NewKid: newKid, RetiredKids: retired}, nil
}

// RetireKey retires one key without minting a replacement. The current
// signing key cannot be retired.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if s.Keys == nil {
		return fmt.Errorf("key service is required")
	}
	if kid == s.Keys.SigningKID() {
		return fmt.Errorf("%w: cannot retire the current signing key", ErrInvalidRequest)
	}

	if s.Store != nil {
		key, err := s.Store.SigningKeys().GetSigningKeyByKid(ctx, kid)
		if err != nil {
			return err
		}
		if key.RetiredAt != nil {
			return fmt.Errorf("%w: key %s is already retired", ErrInvalidRequest, kid)
		}
		if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid); err != nil {
			return fmt.Errorf("failed to retire key: %w", err)
		}
	}

	return s.Keys.Retire(kid)
}

// ListSigningKeys reports all keys with their status. Ephemeral mode only
// knows the current kid.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	if s.Store != nil {
		return s.Store.SigningKeys().ListAllSigningKeys(ctx)
	}
	if s.Keys == nil {
		return nil, fmt.Errorf("key service is required")
	}
	return []domain.SigningKey{{
		Kid:       s.Keys.SigningKID(),
		Algorithm: s.Keys.Algorithm(),
	}}, nil
}

// LoadPersistedKeys rebuilds a key service from stored keys at boot. The
// newest active key signs; everything unexpired, retired included, keeps
// verifying. Returns false when the store holds no usable key yet.
func LoadPersistedKeys(ctx context.Context, s store.Store, cipher *cryptox.KeyCipher, opts jwtx.KeyServiceOptions) (*jwtx.KeyService, bool, error) {
	all, err := s.SigningKeys().ListAllSigningKeys(ctx)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	keys := make(map[string][]byte, len(all))
	currentKid := ""
	for _, key := range all {
		if key.IsExpired(now) || key.Algorithm != opts.Algorithm {
			continue
		}
		pemData, err := cipher.Open(key.PrivateKeyEncrypted)
		if err != nil {
			return nil, false, fmt.Errorf("failed to unseal key %s: %w", key.Kid, err)
		}
		keys[key.Kid] = pemData
		if currentKid == "" && key.IsActive(now) {
			// List order is newest first.
			currentKid = key.Kid
		}
	}
	if currentKid == "" {
		return nil, false, nil
	}

	ks, err := jwtx.NewKeyServiceFromKeys(opts, keys, currentKid)
	if err != nil {
		return nil, false, err
	}
	return ks, true, nil
}
