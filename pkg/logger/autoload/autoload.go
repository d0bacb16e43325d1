// Package autoload configures the global logger from LOG_* variables on import.
package autoload

import (
	configx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/config"
	logx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
