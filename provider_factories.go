package credentials

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/meta"
	"github.com/goliatone/go-credentials/security"
)

func MetaProvider(cfg meta.Config, opts ...meta.Option) (core.Provider, error) {
	provider, err := meta.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// MetaProviderFromConfig builds the Meta provider from service configuration.
func MetaProviderFromConfig(cfg Config, opts ...meta.Option) (core.Provider, error) {
	return MetaProvider(meta.ConfigFromCore(cfg), opts...)
}

func CipherFromConfig(cfg Config) (core.CredentialCipher, error) {
	cipher, err := security.NewCipherFromConfig(cfg.Cipher)
	if err != nil {
		return nil, err
	}
	return cipher, nil
}
