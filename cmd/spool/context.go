package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"spool/internal/client"
	"spool/internal/config"
)

type commandContext struct {
	addrFlag   *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(addrFlag, configFlag *string) *commandContext {
	return &commandContext{
		addrFlag:   addrFlag,
		configFlag: configFlag,
	}
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
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBaseURL resolves the daemon address from the --addr flag or the
// configured API bind.
func (c *commandContext) apiBaseURL() string {
	if c.addrFlag != nil {
		if addr := strings.TrimSpace(*c.addrFlag); addr != "" {
			if strings.Contains(addr, "://") {
				return addr
			}
			return "http://" + addr
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return "http://" + config.Default().Paths.APIBind
	}
	return "http://" + cfg.Paths.APIBind
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	return fn(client.New(c.apiBaseURL()))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
