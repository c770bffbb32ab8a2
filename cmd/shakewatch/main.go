package main

import "github.com/synheart/shakewatch/internal/cli"

func main() {
	cli.Execute()
}
