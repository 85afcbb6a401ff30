package main

import "github.com/rlorbach/business-ai-agent/cmd"

func main() {
	cmd.Execute()
}
