package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/pkg/firestore_doc"

	"go.uber.org/zap"
)

const (
	PREFS_NAMESPACE_CONFIG = "aura-config"
	PREFS_KEY_APPLIANCES   = "appliances"

	PREFS_NAMESPACE_WIFI = "wifi-creds"
	PREFS_KEY_SSID       = "ssid"
)

// RemoteConfigLoader fetches the appliance list from the document store.
type RemoteConfigLoader struct {
	store  port.DocumentStore
	logger *zap.Logger
}

func NewRemoteConfigLoader(store port.DocumentStore, logger *zap.Logger) *RemoteConfigLoader {
	return &RemoteConfigLoader{
		store:  store,
		logger: logger.With(zap.String("component", "config_loader")),
	}
}

// Fetch issues one document request. Errors are ErrRemoteUnavailable,
// ErrDocumentNotFound or ErrMalformedDocument.
func (l *RemoteConfigLoader) Fetch(ctx context.Context, deviceId string) ([]domain.ApplianceSpec, error) {
	path := domain.DeviceConfigPath(deviceId)
	data, err := l.store.GetDocument(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrTransportUnavailable) || errors.Is(err, domain.ErrMalformedRemoteData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	specs, err := DecodeApplianceDocument(data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("config@fetch: remote appliance list decoded", zap.String("path", path), zap.Int("count", len(specs)))
	return specs, nil
}

// DecodeApplianceDocument reads fields.appliances, an array of maps holding a
// string name and an integer pin.
func DecodeApplianceDocument(data []byte) ([]domain.ApplianceSpec, error) {
	specs, err := decodeApplianceDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDocument, err)
	}
	if err := ValidateSpecs(specs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDocument, err)
	}
	return specs, nil
}

func decodeApplianceDocument(data []byte) ([]domain.ApplianceSpec, error) {
	doc, err := firestore_doc.Parse(data)
	if err != nil {
		return nil, err
	}
	field, err := doc.Field("appliances")
	if err != nil {
		return nil, err
	}
	values, err := field.AsArray()
	if err != nil {
		return nil, err
	}

	specs := make([]domain.ApplianceSpec, 0, len(values))
	for i, v := range values {
		fields, err := v.AsMap()
		if err != nil {
			return nil, fmt.Errorf("appliance %d: %w", i, err)
		}
		nameValue, err := firestore_doc.Field(fields, "name")
		if err != nil {
			return nil, fmt.Errorf("appliance %d: %w", i, err)
		}
		name, err := nameValue.AsString()
		if err != nil {
			return nil, fmt.Errorf("appliance %d name: %w", i, err)
		}
		pinValue, err := firestore_doc.Field(fields, "pin")
		if err != nil {
			return nil, fmt.Errorf("appliance %d: %w", i, err)
		}
		pin, err := pinValue.AsInteger()
		if err != nil {
			return nil, fmt.Errorf("appliance %d pin: %w", i, err)
		}
		if pin < 0 || pin > domain.MAX_APPLIANCE_ID {
			return nil, fmt.Errorf("appliance %d: pin %d out of range", i, pin)
		}
		specs = append(specs, domain.ApplianceSpec{Name: name, Id: domain.ApplianceId(pin)})
	}
	return specs, nil
}

// LocalConfigStore keeps the appliance list in the preferences store, as
// the source of truth in local mode and as the cache of the last good remote
// list otherwise.
type LocalConfigStore struct {
	prefs port.Preferences
}

func NewLocalConfigStore(prefs port.Preferences) *LocalConfigStore {
	return &LocalConfigStore{prefs: prefs}
}

// Load returns ok=false when nothing was ever saved.
func (s *LocalConfigStore) Load(ctx context.Context) ([]domain.ApplianceSpec, bool, error) {
	raw, ok, err := s.prefs.Get(ctx, PREFS_NAMESPACE_CONFIG, PREFS_KEY_APPLIANCES)
	if err != nil || !ok {
		return nil, false, err
	}
	specs, err := ParseApplianceList([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return specs, true, nil
}

func (s *LocalConfigStore) Save(ctx context.Context, specs []domain.ApplianceSpec) error {
	if err := ValidateSpecs(specs); err != nil {
		return err
	}
	if specs == nil {
		specs = []domain.ApplianceSpec{}
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return err
	}
	return s.prefs.Put(ctx, PREFS_NAMESPACE_CONFIG, PREFS_KEY_APPLIANCES, string(data))
}

// ParseApplianceList decodes the plain JSON form [{"name":..,"pin":..}].
func ParseApplianceList(data []byte) ([]domain.ApplianceSpec, error) {
	var specs []domain.ApplianceSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDocument, err)
	}
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("%w: appliance on pin %d has no name", domain.ErrMalformedDocument, s.Id)
		}
	}
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// LoadApplianceSpecs resolves the boot-time appliance list. A remote failure
// falls back to the cached list and finally to no appliances; it is never
// fatal.
func LoadApplianceSpecs(ctx context.Context, remote *RemoteConfigLoader, local *LocalConfigStore, deviceId string, logger *zap.Logger) []domain.ApplianceSpec {
	if remote == nil {
		specs, _, err := local.Load(ctx)
		if err != nil {
			logger.Warn("config@boot: stored appliance list unreadable, starting empty", zap.Error(err))
			return nil
		}
		return specs
	}

	specs, err := remote.Fetch(ctx, deviceId)
	if err == nil {
		if err := local.Save(ctx, specs); err != nil {
			logger.Warn("config@boot: failed to cache remote appliance list", zap.Error(err))
		}
		return specs
	}

	logger.Warn("config@boot: remote appliance list unavailable", zap.Error(err))
	cached, ok, cacheErr := local.Load(ctx)
	if cacheErr != nil || !ok {
		logger.Warn("config@boot: no cached appliance list, starting empty", zap.NamedError("cache_error", cacheErr))
		return nil
	}
	logger.Info("config@boot: using cached appliance list", zap.Int("count", len(cached)))
	return cached
}

// HasCredentials reports whether network credentials were provisioned.
func HasCredentials(ctx context.Context, prefs port.Preferences) (bool, error) {
	ssid, ok, err := prefs.Get(ctx, PREFS_NAMESPACE_WIFI, PREFS_KEY_SSID)
	if err != nil {
		return false, err
	}
	return ok && ssid != "", nil
}
