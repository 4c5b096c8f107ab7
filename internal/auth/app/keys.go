package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/jwtx"
)

// initAuthKeys builds the signing key service for the configured storage
// mode.
//
// Storage modes:
//   - "ephemeral": a key is generated on startup and held only in memory.
//     All outstanding tokens become invalid when the service restarts.
//   - "persistent": keys are stored in the database sealed with the master
//     key. Tokens survive restarts and rotations honour a grace period.
func initAuthKeys(
	ctx context.Context,
	cfg Config,
	db store.Store,
	logger *slog.Logger,
) (*jwtx.KeyService, *cryptox.KeyCipher, error) {
	opts := jwtx.KeyServiceOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		RSABits:   cfg.RSABits,
	}

	if cfg.KeyStorageMode != "persistent" {
		keys, _, err := jwtx.NewKeyService(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		logger.Info("generated ephemeral signing key",
			"algorithm", keys.Algorithm(),
			"kid", keys.SigningKID(),
		)
		logger.Warn("all previously issued tokens are now invalid")
		return keys, nil, nil
	}

	if cfg.MasterKeyPath == "" {
		return nil, nil, fmt.Errorf("persistent key mode requires AUTH_MASTER_KEY_PATH")
	}
	material, err := os.ReadFile(cfg.MasterKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read master key: %w", err)
	}
	cipher, err := cryptox.NewKeyCipher(material)
	if err != nil {
		return nil, nil, err
	}

	keys, ok, err := service.LoadPersistedKeys(ctx, db, cipher, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load persisted keys: %w", err)
	}
	if ok {
		logger.Info("persisted signing keys loaded",
			"algorithm", keys.Algorithm(),
			"kid", keys.SigningKID(),
		)
		return keys, cipher, nil
	}

	// First boot: generate a key and seal it into the store.
	keys, pemData, err := jwtx.NewKeyService(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	sealed, err := cipher.Seal(pemData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to seal signing key: %w", err)
	}

	now := time.Now().UTC()
	record := domain.SigningKey{
		ID:                  idx.New().String(),
		Kid:                 keys.SigningKID(),
		Algorithm:           keys.Algorithm(),
		PrivateKeyEncrypted: sealed,
		CreatedAt:           now,
		ExpiresAt:           now.Add(cfg.KeyGracePeriod),
	}
	if err := db.SigningKeys().CreateSigningKey(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("failed to persist signing key: %w", err)
	}

	logger.Info("generated and persisted initial signing key",
		"algorithm", keys.Algorithm(),
		"kid", keys.SigningKID(),
	)
	return keys, cipher, nil
}
