// Package autoload configures the global logger from LOG_* variables when
// imported.
package autoload

import (
	configx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/config"
	logx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/logger"
)

func init() {
	conf := configx.MustNew[logx.Config]("LOG")
	logx.Init(*conf)
}
