package main

import (
	"github.com/inrep-lab/lexgraph/backend/internal/server"
	"github.com/inrep-lab/lexgraph/backend/internal/util"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
