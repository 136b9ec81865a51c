package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/pairsync/pkg/errors"
)

// invalidConfigTemplate is shown when the config file isn't valid YAML, or
// doesn't match the Config schema. The parser's error is appended verbatim
// since it's the only place that names the offending field.
const invalidConfigTemplate = "The pairsync config at %q is invalid.\n" +
	"Check that every field is spelled as in `pairsync config init`, and " +
	"that durations are quoted strings such as \"30s\".\n\n" +
	"Parser error:\n" +
	"%s"

// versionMismatchError is returned when the config file was written for a
// different release of pairsync.
type versionMismatchError struct {
	path, exp, actual string
}

func (err versionMismatchError) Error() string {
	return err.FriendlyMessage()
}

func (err versionMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("The pairsync config at %q has version %q, but this "+
		"release only reads version %q.\n"+
		"Regenerate it with `pairsync config init --force`, and copy the "+
		"secret over.", err.path, err.actual, err.exp)
}

// decodeFile reads the YAML file at `path` into `cfg`. Fields already set on
// `cfg` are kept unless the file overrides them.
//
// The version is checked after a lenient decode, so that a config from
// another release reports the version mismatch rather than whichever field
// was renamed. Unknown fields are then rejected by a strict decode.
func decodeFile(path string, cfg *Config) error {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if isNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}

	if cfg.Version != SupportedVersion {
		return versionMismatchError{path, SupportedVersion, cfg.Version}
	}

	if err := yaml.UnmarshalStrict(raw, cfg, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}
	return nil
}

func isNotExist(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr.Err)
}
