package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codeduel/client/internal/devserver"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	addr := os.Getenv("DEVSERVER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx := context.Background()
	srv := devserver.New(ctx, clockwork.NewRealClock(), logger)

	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
