package main

import (
	"go-transfer-core/app"
)

func main() {
	app.Run()
}
