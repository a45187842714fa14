// Package wconfig holds the ambient Context every other package takes
// instead of reading process-global state: common keys, default
// layout/allocation policy, the WIT_WBFS search path, and a logger.
package wconfig

import (
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/imdario/mergo"
	"github.com/spf13/viper"

	"github.com/wiidisc/wiidisc/pkg/compose"
	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/elog"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
)

// EnvWBFS is the environment variable (spec §6) listing candidate WBFS
// paths, separated by ';', consulted when no partition is named on the
// command line.
const EnvWBFS = "WIT_WBFS"

// configFileName is the optional config file consulted for defaults,
// following the teacher's viper + go-homedir root-command wiring.
const configFileName = ".wiidisc"

// Defaults bundles the settings a fresh Context starts from before any
// environment or config-file overrides are merged in.
type Defaults struct {
	PartitionOffset int64
	AllocPolicy     wbfs.Policy
	EncodeFlags     compose.EncodeFlag
	FakeSignMax     int
}

// DefaultDefaults matches the composer/WBFS packages' own zero-value
// defaults (data partition at 0xF800000, AUTO allocation, SIGN encode).
func DefaultDefaults() Defaults {
	return Defaults{
		PartitionOffset: compose.DefaultPartitionOffset,
		AllocPolicy:     wbfs.PolicyAuto,
		EncodeFlags:     compose.Sign,
		FakeSignMax:     2000,
	}
}

// Context carries the keys, defaults and ambient services that would
// otherwise live in a global mutable table (spec §9 "Global mutable
// tables"). Callers pass it explicitly; library entry points such as
// disc.Open and wbfs.Create do not take one.
type Context struct {
	Keys     disc.CommonKeys
	Defaults Defaults
	WBFSPath []string
	Log      elog.View
	Cancel   func() <-chan struct{}
}

// Option configures a Context during New.
type Option func(*Context)

// WithKeys installs the common-key table used to derive per-partition
// title keys (C1).
func WithKeys(keys disc.CommonKeys) Option {
	return func(c *Context) { c.Keys = keys }
}

// WithLogger installs a logging/progress view (spec §9 ambient stack).
func WithLogger(v elog.View) Option {
	return func(c *Context) { c.Log = v }
}

// WithCancel installs a cancellation-token factory; every long-running
// loop consults the returned channel at each group boundary (spec §5).
func WithCancel(f func() <-chan struct{}) Option {
	return func(c *Context) { c.Cancel = f }
}

// New builds a Context from DefaultDefaults, the optional config file
// (~/.wiidisc.yaml, read with viper), the WIT_WBFS environment
// variable, and any Options, in that override order.
func New(opts ...Option) (*Context, error) {
	c := &Context{
		Defaults: DefaultDefaults(),
		Cancel:   func() <-chan struct{} { return nil },
	}

	if err := loadConfigFile(&c.Defaults); err != nil {
		return nil, err
	}

	c.WBFSPath = splitWBFSPath(os.Getenv(EnvWBFS))

	for _, opt := range opts {
		opt(c)
	}

	if c.Log == nil {
		c.Log = &elog.CLI{}
	}

	return c, nil
}

// loadConfigFile layers ~/.wiidisc.yaml over d, if present, using
// mergo so unset fields in the file fall back to d's values.
func loadConfigFile(d *Defaults) error {
	home, err := homedir.Dir()
	if err != nil {
		return nil // no home directory is not fatal; just skip the file
	}

	viper.SetConfigName(configFileName)
	viper.AddConfigPath(home)
	if err := viper.ReadInConfig(); err != nil {
		return nil // absent/unreadable config file falls back to built-ins
	}

	var fileDefaults Defaults
	if err := viper.Unmarshal(&fileDefaults); err != nil {
		return err
	}

	return mergo.Merge(d, fileDefaults, mergo.WithOverride)
}

// splitWBFSPath parses the semicolon-separated WIT_WBFS value,
// expanding a leading "~" in each candidate.
func splitWBFSPath(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if expanded, err := homedir.Expand(p); err == nil {
			p = expanded
		}
		out = append(out, p)
	}
	return out
}
