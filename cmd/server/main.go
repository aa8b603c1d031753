package main

import "github.com/eleven-am/buzzer-backend/internal/bootstrap"

func main() {
	bootstrap.Run()
}
