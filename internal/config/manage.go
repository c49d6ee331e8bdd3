package config

import (
	"fmt"
	"strings"
)

// KeyInfo is one row of `commander config show`.
type KeyInfo struct {
	Key    string
	Type   string
	EnvVar string
	Value  string
	// Overridden is set when Value differs from the built-in default.
	Overridden bool
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	var out []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		v := fmt.Sprint(s.extract(cfg))
		out = append(out, KeyInfo{
			Key:        s.key,
			Type:       s.typeName(),
			EnvVar:     s.env,
			Value:      v,
			Overridden: v != fmt.Sprint(s.extract(def)),
		})
	}
	return out
}

// SetKey validates value and persists it. Plain keys go to the platform
// backend, provider API keys to the keychain.
func SetKey(key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.secret {
		return setSecret(NewKeychain(), s, value)
	}
	return setKey(newPlatformBackend(), key, value)
}

// UnsetKey removes a persisted value so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key == key {
			return s, nil
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(ValidKeys(), ", "))
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.secret {
		return fmt.Errorf("%s is a secret and is stored in the keychain, not the config backend", key)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("%s expects a %s: %w", key, s.typeName(), err)
	}
	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	// Canonical form, so "90s" is read back as "1m30s".
	return b.SetString(key, fmt.Sprint(v))
}

func setSecret(k Keychain, s keySpec, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s: empty value", s.key)
	}
	if err := k.Set(s.account, value); err != nil {
		return fmt.Errorf("storing %s: %w", s.key, err)
	}
	return nil
}

func unsetKey(b ConfigBackend, key string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	if s.secret {
		return fmt.Errorf("%s lives in the keychain; remove it with your keyring tool or override %s", key, s.env)
	}
	if err := b.Delete(key); err != nil {
		return fmt.Errorf("unsetting %s: %w", key, err)
	}
	return nil
}

// ValidKeys lists the keys accepted by `config set`, secrets excluded.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
