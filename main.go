package main

import "merchant-risk-engine/internal/cli"

func main() {
	cli.Execute()
}
