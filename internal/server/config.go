package server

import (
	"time"

	"github.com/dennisMeeQ/clavum/internal/approval"
)

type Config struct {
	Addr            string
	MongoURI        string
	MongoDB         string
	ApprovalTimeout time.Duration
	KeyCacheTTL     time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MongoDB == "" {
		c.MongoDB = "clavum"
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = approval.DefaultTimeout
	}
	if c.KeyCacheTTL <= 0 {
		c.KeyCacheTTL = 5 * time.Minute
	}
}
