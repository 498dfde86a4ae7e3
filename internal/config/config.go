// Package config loads and watches the server configuration.
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("nixls.config")

// DefaultFile is the config file looked up in the working directory
// when no --config flag is given.
const DefaultFile = ".nixls.json"

// Config is the recognized option schema. Later sources win:
// defaults, then the JSON file, then pushed settings.
type Config struct {
	Eval struct {
		// Workers caps the eval worker pool.
		Workers int `koanf:"workers"`
		// Depth is shipped to eval workers in the bootstrap snapshot; the
		// in-tree static evaluator does not read it.
		Depth int `koanf:"depth"`
	} `koanf:"eval"`
	Options struct {
		// Enable turns on option worker consultation.
		Enable bool `koanf:"enable"`
		// Source is the path of the options JSON dump to index.
		Source string `koanf:"source"`
	} `koanf:"options"`
	Formatting struct {
		// Command is the external formatter invocation.
		Command string `koanf:"command"`
	} `koanf:"formatting"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Eval.Workers = 3
	c.Formatting.Command = "nixpkgs-fmt"
	return c
}

// Load reads the config file over the defaults. A missing or unreadable
// file is reported as an error, returned together with the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return cfg, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("cannot decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a pushed settings payload (didChangeConfiguration)
// over the given base.
func Parse(base Config, raw []byte) (Config, error) {
	cfg := base
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), kjson.Parser()); err != nil {
		return cfg, fmt.Errorf("cannot parse settings payload: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("cannot decode settings payload: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config file on change and hands the result to the
// callback. Returns a stop function. Editors that rename-replace the
// file generate Create events, so both are watched.
func Watch(path string, onChange func(Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Errorf("config reload failed: %s", err.Error())
					continue
				}
				log.Infof("config reloaded from %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("config watcher: %s", err.Error())
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
