package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/zepph7/christmas-surprise/cmd/cmds"
	"github.com/zepph7/christmas-surprise/pkg/logger"
)

func main() {
	ctx, cancelSignal := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	err := cmds.Execute(ctx)
	cancelSignal()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
