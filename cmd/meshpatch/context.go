package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"meshpatch/internal/apply"
	"meshpatch/internal/config"
	"meshpatch/internal/derived"
	"meshpatch/internal/locate"
	"meshpatch/internal/logging"
	"meshpatch/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *slog.Logger
	store  *store.Store
	// stdin is shared by every prompt of a command so buffered input is
	// not lost between them.
	stdin *bufio.Reader
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	c.logger = logger
	return logger, nil
}

func (c *commandContext) ensureStore() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	c.store = st
	return st, nil
}

// input returns the buffered reader over the command's stdin.
func (c *commandContext) input(cmd *cobra.Command) *bufio.Reader {
	if c.stdin == nil {
		c.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	return c.stdin
}

// close releases the metadata store. Commands that open it defer close.
func (c *commandContext) close() {
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
}

func (c *commandContext) builder() (*derived.Builder, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	st, err := c.ensureStore()
	if err != nil {
		return nil, err
	}
	return derived.NewBuilder(cfg, st, logger), nil
}

func (c *commandContext) scanner(opts ...locate.Option) (*locate.Scanner, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return locate.NewScanner(cfg, logger, opts...), nil
}

// applicator wires the builder and locator. When prompt is set and stdin is a
// terminal, the locator asks for a base file as a last resort.
func (c *commandContext) applicator(cmd *cobra.Command, prompt bool) (*apply.Applicator, error) {
	assets, err := c.builder()
	if err != nil {
		return nil, err
	}
	var opts []locate.Option
	if prompt && isTerminal(cmd.InOrStdin()) {
		opts = append(opts, locate.WithPrompter(&locate.LinePrompter{In: c.input(cmd), Out: cmd.ErrOrStderr()}))
	}
	scanner, err := c.scanner(opts...)
	if err != nil {
		return nil, err
	}
	return apply.NewApplicator(c.config, c.store, assets, scanner, c.logger), nil
}

// skipConfigAnnotation marks commands that run without a loaded config.
const skipConfigAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// outputFormat resolves the mutually exclusive --json and --yaml flags.
func outputFormat(jsonOut, yamlOut bool) (string, error) {
	switch {
	case jsonOut && yamlOut:
		return "", fmt.Errorf("--json and --yaml are mutually exclusive")
	case jsonOut:
		return "json", nil
	case yamlOut:
		return "yaml", nil
	}
	return "text", nil
}

func writeStructured(cmd *cobra.Command, format string, v any) error {
	if format == "yaml" {
		return writeYAML(cmd, v)
	}
	return writeJSON(cmd, v)
}
