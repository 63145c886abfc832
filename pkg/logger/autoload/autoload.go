// Package autoload initialises the global logger from LOG_* variables when
// imported for its side effect.
package autoload

import (
	configx "github.com/tanpawarit/account-lease-bot/pkg/config"
	logx "github.com/tanpawarit/account-lease-bot/pkg/logger"
)

func init() {
	conf, err := configx.Decode[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		return
	}
	logx.Init(*conf)
}
