package web

import (
	btclog "github.com/btcsuite/btclog/v2"
)

// log is a logger that is initialized as disabled. Output is enabled by the
// daemon via UseLogger.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
