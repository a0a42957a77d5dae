package main

import "ragweb/internal/cli"

func main() {
	cli.Execute()
}
