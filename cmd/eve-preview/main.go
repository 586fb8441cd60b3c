package main

import "github.com/eve-tools/eve-preview/cmd/eve-preview/commands"

func main() {
	commands.Execute()
}
