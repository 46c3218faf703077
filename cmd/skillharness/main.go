package main

import "github.com/hollowvale/skillharness/internal/cli"

func main() {
	cli.Execute()
}
