package main

import "github.com/fakeyudi/vidnote/cmd"

func main() {
	cmd.Execute()
}
