package history

import (
	"context"
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fleetgate-sh/scheduler/internal/state"
)

// Key builds the state store key for an organization's version data,
// optionally scoped to a single addon.
func Key(environment, organization, addonID string) string {
	key := environment + "/" + organization
	if addonID != "" {
		key += "/" + addonID
	}
	return key
}

// Load deserializes the organization's version data from the state store,
// returning an empty record when none has been persisted yet.
func Load(store state.Store, key string) (*VersionData, error) {
	raw, ok, err := store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load version data for %s: %w", key, err)
	}
	if !ok {
		return New(), nil
	}

	data := New()
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("failed to decode version data for %s: %w", key, err)
	}
	if data.Versions == nil {
		data.Versions = map[string]*VersionWorkloads{}
	}

	return data, nil
}

// Save persists the organization's version data. Under dry run the write is
// skipped so that repeated dry cycles never fabricate soak time.
func Save(ctx context.Context, store state.Store, key string, data *VersionData, dryRun bool) error {
	if dryRun {
		log.FromContext(ctx).V(1).Info("dry run, not persisting version data", "key", key)
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode version data for %s: %w", key, err)
	}
	if err := store.Put(key, raw); err != nil {
		return fmt.Errorf("failed to persist version data for %s: %w", key, err)
	}

	return nil
}
