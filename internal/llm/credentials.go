package llm

import (
	"errors"
	"fmt"
	"strings"
)

// CredentialSlot is one upstream API credential. Slots are tried in the
// order they are configured.
type CredentialSlot struct {
	Secret   string
	Label    string
	Provider Provider
	// BaseURL overrides the provider default when set.
	BaseURL string
	// Model pins every request on this slot to one model, ignoring the
	// caller's fallback list. Used for providers that do not share the
	// OpenRouter model namespace.
	Model string
}

var (
	errEmptySecret   = errors.New("secret is empty")
	errSecretPattern = errors.New("secret does not match provider pattern")
)

// Validate checks that the slot carries a secret shaped like the provider's keys.
func (s CredentialSlot) Validate() error {
	secret := strings.TrimSpace(s.Secret)
	if secret == "" {
		return fmt.Errorf("credential %s: %w", s.Label, errEmptySecret)
	}

	var ok bool
	switch s.Provider {
	case ProviderAnthropic:
		ok = strings.HasPrefix(secret, "sk-ant-")
	case ProviderOpenAI, "":
		ok = strings.HasPrefix(secret, "sk-")
	default:
		return fmt.Errorf("credential %s: unknown provider %q", s.Label, s.Provider)
	}
	if !ok || len(secret) < 20 {
		return fmt.Errorf("credential %s: %w", s.Label, errSecretPattern)
	}
	return nil
}

// Masked returns a short, non-secret prefix for diagnostics.
func (s CredentialSlot) Masked() string {
	secret := strings.TrimSpace(s.Secret)
	if len(secret) <= 10 {
		return ""
	}
	return secret[:10] + "..."
}

// ValidCredentials returns the slots that pass Validate, preserving order.
func ValidCredentials(slots []CredentialSlot) []CredentialSlot {
	valid := make([]CredentialSlot, 0, len(slots))
	for _, s := range slots {
		if s.Validate() == nil {
			s.Secret = strings.TrimSpace(s.Secret)
			valid = append(valid, s)
		}
	}
	return valid
}
