package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"ircgate/internal/config"
	"ircgate/internal/controlclient"
	"ircgate/internal/state"
)

// commandContext resolves the shared state file lazily so commands only pay
// for it when they actually dial the daemon.
type commandContext struct {
	stateFlag  *string
	configFlag *string

	stateOnce sync.Once
	control   state.Control
	stateErr  error
}

func newCommandContext(stateFlag, configFlag *string) *commandContext {
	return &commandContext{
		stateFlag:  stateFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureControl() (state.Control, error) {
	c.stateOnce.Do(func() {
		path, err := c.resolveStatePath()
		if err != nil {
			c.stateErr = err
			return
		}

		store, err := state.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			c.stateErr = fmt.Errorf("state file %s not found; run ircgated once to generate it", path)
			return
		}
		if err != nil {
			c.stateErr = err
			return
		}
		c.control = store.Control()
	})
	return c.control, c.stateErr
}

func (c *commandContext) resolveStatePath() (string, error) {
	if c.stateFlag != nil && strings.TrimSpace(*c.stateFlag) != "" {
		return strings.TrimSpace(*c.stateFlag), nil
	}
	var configPath string
	if c.configFlag != nil {
		configPath = strings.TrimSpace(*c.configFlag)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Paths.StateFile, nil
}

func (c *commandContext) withClient(fn func(*controlclient.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*controlclient.Client, error) {
	ctl, err := c.ensureControl()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(ctl.Host, strconv.Itoa(ctl.Port))
	client, err := controlclient.Dial(addr, ctl.Secret)
	if err != nil {
		return nil, wrapDialError(err, addr)
	}
	return client, nil
}

func wrapDialError(err error, addr string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; is ircgated running?", addr)
	}
	return err
}
