package main

import (
	"os"

	"github.com/alecthomas/kong"
	_ "github.com/lib/pq"

	"github.com/elskow/boardguard/internal/server"
)

func main() {
	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", server.EnvDevelopment)
	}

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("boardguard-migrate"),
		kong.Description("Schema migrations and rate limit maintenance."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
