package main

import "github.com/devicelab-dev/devicepool/pkg/cli"

func main() {
	cli.Execute()
}
