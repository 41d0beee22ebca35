package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"github.com/clubops/fanquota/internal/app"
)

func main() {
	a := fx.New(app.Module)
	if err := a.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-a.Done()
	if err := a.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}
