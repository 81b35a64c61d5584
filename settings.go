package abpfilter

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/AdguardTeam/abpfilter/internal/fileutil"
	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"
)

// DefaultUpdatePeriodDays is the default update period of subscriptions
// without an "Expires" directive.
const DefaultUpdatePeriodDays = 1

// Settings are the persisted settings of a [Manager].
type Settings struct {
	// Subscriptions are the descriptor URLs of the subscriptions in order.
	Subscriptions []string `yaml:"subscriptions"`

	// Exceptions are the hosts that are never filtered.
	Exceptions []string `yaml:"exceptions"`

	// UpdatePeriodDays is the update period of subscriptions without an
	// "Expires" directive.
	UpdatePeriodDays int `yaml:"update_period_days"`

	// Enabled is the master switch of filtering.
	Enabled bool `yaml:"enabled"`
}

// DefaultSettings returns the settings used when nothing is persisted yet.
func DefaultSettings() (s *Settings) {
	return &Settings{
		UpdatePeriodDays: DefaultUpdatePeriodDays,
		Enabled:          true,
	}
}

// SettingsStore loads and saves the settings of a [Manager].
type SettingsStore interface {
	// Load returns the persisted settings.  If nothing is persisted, it
	// returns [DefaultSettings].
	Load(ctx context.Context) (s *Settings, err error)

	// Save persists s.
	Save(ctx context.Context, s *Settings) (err error)
}

// FileSettingsStore is a [SettingsStore] that keeps the settings in a YAML
// file.
type FileSettingsStore struct {
	path string
}

// type check
var _ SettingsStore = (*FileSettingsStore)(nil)

// NewFileSettingsStore returns a new store keeping the settings in the file
// at path.
func NewFileSettingsStore(path string) (s *FileSettingsStore) {
	return &FileSettingsStore{
		path: path,
	}
}

// Load implements the [SettingsStore] interface for *FileSettingsStore.  Keys
// missing in the file keep their default values.
func (s *FileSettingsStore) Load(_ context.Context) (conf *Settings, err error) {
	conf = DefaultSettings()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return conf, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	err = yaml.Unmarshal(data, conf)
	if err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	if conf.UpdatePeriodDays <= 0 {
		conf.UpdatePeriodDays = DefaultUpdatePeriodDays
	}

	return conf, nil
}

// Save implements the [SettingsStore] interface for *FileSettingsStore.
func (s *FileSettingsStore) Save(_ context.Context, conf *Settings) (err error) {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	return errors.Annotate(fileutil.WriteAtomic(s.path, data, 0o644, 0o755), "writing settings: %w")
}
