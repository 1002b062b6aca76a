package main

import "github.com/example/fpid/cmd"

func main() {
	cmd.Execute()
}
