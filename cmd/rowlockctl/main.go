package main

import (
	"context"

	"github.com/bellwood-io/rowlock/cmd/rowlockctl/app"
)

func main() {
	app.MustExecute(context.Background())
}
