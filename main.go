package main

import (
	"context"

	"github.com/ezyang/ghstack/cmd"
)

func main() {
	ctx := context.Background()
	cmd.Execute(ctx)
}
