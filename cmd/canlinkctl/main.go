package main

import "github.com/canlink-io/canlink/cmd/canlinkctl/cmd"

func main() { cmd.Execute() }
