package main

import "github.com/camarigor/sentinel/internal/cli"

func main() {
	cli.Execute()
}
