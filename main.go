package main

import "github.com/Jhon-Ross/Bot-HalionRP/cmd"

func main() {
	cmd.Execute()
}
