package app

import (
	"errors"
	"flag"
)

type Config struct {
	DBPath    string
	SessionID int64
	Topic     string
	List      bool
}

func NewConfig() *Config {
	return &Config{
		SessionID: 1,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	flag.StringVar(&c.DBPath, "db", "", "Path to the flight recorder database")
	flag.Int64Var(&c.SessionID, "s", 1, "Session ID")
	flag.StringVar(&c.Topic, "t", "", "Only show events for this topic")
	flag.BoolVar(&c.List, "list", false, "List recorded sessions and exit")
	flag.Parse()

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if !c.List && c.SessionID <= 0 {
		err = errors.New("session id is required")
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	return c, nil
}
