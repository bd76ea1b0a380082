package main

import "mythweaver/internal/cli"

func main() {
	cli.Execute()
}
