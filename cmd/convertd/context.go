package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"convertd/internal/config"
	"convertd/internal/conversion"
	"convertd/internal/notifications"
	"convertd/internal/objectstore"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/scheduling"
)

type commandContext struct {
	configFlag  *string
	accountFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storesOnce sync.Once
	stores     *stores
	storesErr  error
}

// stores are the backends a management command works against.
type stores struct {
	queue   queue.Queue
	records *records.Store
	objects objectstore.Store
}

func newCommandContext(configFlag, accountFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, accountFlag: accountFlag}
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

func (c *commandContext) account() string {
	if c.accountFlag == nil {
		return "local"
	}
	return strings.TrimSpace(*c.accountFlag)
}

func (c *commandContext) open() (*stores, error) {
	c.storesOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storesErr = err
			return
		}
		q, err := queue.Open(cfg)
		if err != nil {
			c.storesErr = fmt.Errorf("open queue: %w", err)
			return
		}
		store, err := records.Open(cfg)
		if err != nil {
			_ = q.Close()
			c.storesErr = fmt.Errorf("open record store: %w", err)
			return
		}
		objects, err := objectstore.Open(cfg)
		if err != nil {
			_ = q.Close()
			_ = store.Close()
			c.storesErr = fmt.Errorf("open object store: %w", err)
			return
		}
		c.stores = &stores{queue: q, records: store, objects: objects}
	})
	return c.stores, c.storesErr
}

func (c *commandContext) close() {
	if c.stores == nil {
		return
	}
	_ = c.stores.queue.Close()
	_ = c.stores.records.Close()
	c.stores = nil
}

func (c *commandContext) submitter(s *stores) *conversion.Submitter {
	return conversion.NewSubmitter(s.records, s.queue, c.config.Queue.MaxAttempts)
}

func (c *commandContext) schedules(s *stores) *scheduling.Manager {
	return scheduling.NewManager(s.records, s.queue, c.config.Queue.MaxAttempts)
}

func (c *commandContext) notifier(s *stores) *notifications.Enqueuer {
	return notifications.NewEnqueuer(s.queue, c.config.Workers.NotificationMaxAttempts)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

var errAccountRequired = errors.New("--account must not be empty")

func (c *commandContext) requireAccount() (string, error) {
	account := c.account()
	if account == "" {
		return "", errAccountRequired
	}
	return account, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
