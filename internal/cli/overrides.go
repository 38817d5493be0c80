package cli

import (
	"path/filepath"

	"github.com/spf13/pflag"

	"skuntir.com/GraphBridge/internal/config"
)

func ResolveHome(homeFlag string) (string, error) {
	if homeFlag == "" {
		return "", nil
	}
	return filepath.Abs(homeFlag)
}

func ApplyHomeOverride(cfg *config.Config, homeFlag string) error {
	home, err := ResolveHome(homeFlag)
	if err != nil {
		return err
	}
	if home != "" {
		cfg.HomePath = home
	}
	return nil
}

// ApplyFlagOverrides copies only the flags the user actually set onto cfg.
func ApplyFlagOverrides(cfg *config.Config, fs *pflag.FlagSet) error {
	if fs.Changed("width") {
		w, err := fs.GetInt("width")
		if err != nil {
			return err
		}
		cfg.Width = w
	}
	if fs.Changed("height") {
		h, err := fs.GetInt("height")
		if err != nil {
			return err
		}
		cfg.Height = h
	}
	if fs.Changed("eval-timeout") {
		sec, err := fs.GetInt("eval-timeout")
		if err != nil {
			return err
		}
		cfg.EvalTimeoutSec = sec
	}
	if fs.Changed("default") {
		name, err := fs.GetString("default")
		if err != nil {
			return err
		}
		cfg.DefaultPlugin = name
	}
	if fs.Changed("debug") {
		debug, err := fs.GetBool("debug")
		if err != nil {
			return err
		}
		cfg.Debug = debug
	}
	return nil
}
