package main

import "github.com/omrylcn/gbot/cmd"

func main() {
	cmd.Execute()
}
