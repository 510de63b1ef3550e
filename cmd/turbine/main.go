package main

import "turbine/cmd/turbine/command"

func main() {
	command.Execute()
}
