package main

import (
	"log"

	"github.com/Edmundtutu/edumanage-chat/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
