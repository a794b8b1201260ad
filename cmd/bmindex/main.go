package main

import "mit.edu/dsg/bmindex/cmd/bmindex/commands"

func main() {
	commands.Execute()
}
