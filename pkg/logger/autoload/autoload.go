// Package autoload initializes the global logger from the LOG_* environment
// on import:
//
//	import _ "github.com/pattarawit/ensemble/pkg/logger/autoload"
package autoload

import (
	configx "github.com/pattarawit/ensemble/pkg/config"
	logx "github.com/pattarawit/ensemble/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		return
	}
	logx.Init(*conf)
}
