package mqtt

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nugget/signal-relay/internal/opstate"
)

// KV is the slice of the operational state store the instance ID
// needs. Satisfied by *opstate.Store.
type KV interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
}

// LoadOrCreateInstanceID returns the persisted instance ID, generating
// and saving a UUIDv7 on first use. It survives device_name changes so
// HA entity history is kept across renames.
func LoadOrCreateInstanceID(store KV) (string, error) {
	id, err := store.Get(opstate.NamespaceInstance, opstate.KeyID)
	if err != nil {
		return "", fmt.Errorf("load instance ID: %w", err)
	}
	if id != "" {
		return id, nil
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	id = u.String()
	if err := store.Set(opstate.NamespaceInstance, opstate.KeyID, id); err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	return id, nil
}
